package importer

import (
	"context"
	"fmt"
	"strings"

	"github.com/mattjoyce/csdb/internal/job"
)

// Archive-import job property keys.
const (
	PropContentLanguage = "contentLanguage"
	PropArchivePath     = "archivePath"
	PropSchemaForFolder = "schemaForFolder"
	PropSchemaForXML    = "schemaForXml"
	PropSchemaForBinary = "schemaForBinary"
	PropRootFolderNode  = "rootFolderNode"
)

// Properties are the parameters an archive-import job carries.
type Properties struct {
	Language    string
	ArchivePath string
	Root        string
	Overrides   Overrides
}

// Map encodes p as job properties, omitting empty values.
func (p Properties) Map() map[string]string {
	m := make(map[string]string)
	set := func(k, v string) {
		if v != "" {
			m[k] = v
		}
	}
	set(PropContentLanguage, p.Language)
	set(PropArchivePath, p.ArchivePath)
	set(PropRootFolderNode, p.Root)
	set(PropSchemaForFolder, p.Overrides.Folder)
	set(PropSchemaForXML, p.Overrides.XML)
	set(PropSchemaForBinary, p.Overrides.Binary)
	return m
}

// PropertiesFrom decodes archive-import job properties.
func PropertiesFrom(m map[string]string) Properties {
	return Properties{
		Language:    m[PropContentLanguage],
		ArchivePath: m[PropArchivePath],
		Root:        m[PropRootFolderNode],
		Overrides: Overrides{
			Folder: m[PropSchemaForFolder],
			XML:    m[PropSchemaForXML],
			Binary: m[PropSchemaForBinary],
		},
	}
}

// NewEnqueueRequest builds the job request for importing an archive into a
// release.
func NewEnqueueRequest(user, releaseID string, p Properties) (job.EnqueueRequest, error) {
	if strings.TrimSpace(p.ArchivePath) == "" {
		return job.EnqueueRequest{}, fmt.Errorf("%s is required", PropArchivePath)
	}
	if strings.TrimSpace(p.Language) == "" {
		return job.EnqueueRequest{}, fmt.Errorf("%s is required", PropContentLanguage)
	}
	if strings.TrimSpace(releaseID) == "" {
		return job.EnqueueRequest{}, fmt.Errorf("release is required")
	}
	return job.EnqueueRequest{
		Type:       job.TypeArchiveImport,
		Creator:    user,
		ReleaseID:  releaseID,
		Properties: p.Map(),
	}, nil
}

// Task runs archive-import jobs.
type Task struct {
	importer *Importer
	selector *RuleSelector
}

func NewTask(im *Importer, selector *RuleSelector) *Task {
	return &Task{importer: im, selector: selector}
}

func (t *Task) Run(ctx context.Context, j *job.Job, h *job.Handler) error {
	p := PropertiesFrom(j.Properties)
	req := Request{
		User:        j.Creator,
		Language:    p.Language,
		Release:     j.ReleaseID,
		Root:        p.Root,
		ArchivePath: p.ArchivePath,
		Selector:    t.selector.WithOverrides(p.Overrides),
	}
	return t.importer.ImportArchive(ctx, req, h)
}
