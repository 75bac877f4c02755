package populator

import (
	"log/slog"

	"github.com/mattjoyce/csdb/internal/config"
	"github.com/mattjoyce/csdb/internal/content"
	"github.com/mattjoyce/csdb/internal/log"
)

// Deps is what the built-in populators need to write content.
type Deps struct {
	Store *content.Store
	// SchemaName and SchemaVariant are stamped on stored XML content entities.
	SchemaName    string
	SchemaVariant string
	Logger        *slog.Logger
}

// NewDeps builds Deps from the populators config section.
func NewDeps(store *content.Store, cfg config.PopulatorsConfig) Deps {
	return Deps{
		Store:         store,
		SchemaName:    cfg.XML.SchemaName,
		SchemaVariant: cfg.XML.SchemaVariant,
		Logger:        log.WithComponent("populator"),
	}
}

func (d Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return log.Get()
}
