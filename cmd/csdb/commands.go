package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mattjoyce/csdb/internal/api"
	"github.com/mattjoyce/csdb/internal/content"
	"github.com/mattjoyce/csdb/internal/importer"
	"github.com/mattjoyce/csdb/internal/inspect"
	"github.com/mattjoyce/csdb/internal/job"
	"github.com/mattjoyce/csdb/internal/migrate"
	"github.com/mattjoyce/csdb/internal/system"
	"github.com/mattjoyce/csdb/internal/tui/watch"
)

func runContentNoun(args []string) int {
	if len(args) < 1 {
		printContentNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printContentNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "init":
		if hasHelpFlag(actionArgs) {
			printContentInitHelp()
			return 0
		}
		return runContentInit(actionArgs)
	case "tree":
		if hasHelpFlag(actionArgs) {
			printContentTreeHelp()
			return 0
		}
		return runContentTree(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown content action: %s\n", action)
		return 1
	}
}

func runJobNoun(args []string) int {
	if len(args) < 1 {
		printJobNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printJobNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	if hasHelpFlag(actionArgs) {
		if usage, ok := jobActionHelp[action]; ok {
			fmt.Println(usage)
			return 0
		}
	}

	switch action {
	case "import":
		return runJobImport(actionArgs)
	case "migrate":
		return runJobMigrate(actionArgs)
	case "list":
		return runJobList(actionArgs)
	case "get":
		return runJobGet(actionArgs)
	case "inspect":
		return runJobInspect(actionArgs)
	case "watch":
		return runJobWatch(actionArgs)
	case "reset":
		return runJobReset(actionArgs)
	case "delete":
		return runJobDelete(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown job action: %s\n", action)
		return 1
	}
}

func runPopulatorNoun(args []string) int {
	if len(args) < 1 {
		printPopulatorNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printPopulatorNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "list":
		if hasHelpFlag(actionArgs) {
			fmt.Println("Usage: csdb populator list [--config PATH] [--json]")
			fmt.Println("Show built-in and manifest populators in selection order.")
			return 0
		}
		return runPopulatorList(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown populator action: %s\n", action)
		return 1
	}
}

func printContentNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: csdb content <action> [flags]")
	fmt.Fprintln(w, "Actions: init, tree")
}

func printJobNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: csdb job <action> [flags]")
	fmt.Fprintln(w, "Actions: import, migrate, list, get, inspect, watch, reset, delete")
}

func printPopulatorNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: csdb populator <action>")
	fmt.Fprintln(w, "Actions: list")
}

func printContentInitHelp() {
	fmt.Println("Usage: csdb content init [--config PATH] [--language TAG] [--release NAME] [--root NAME] [--user NAME]")
	fmt.Println("Create the language, release, folder/xml/binary schemas and a root folder. Existing entities are reused.")
}

func printContentTreeHelp() {
	fmt.Println("Usage: csdb content tree [--config PATH] [--release NAME|ID] [--language TAG] [--root NODE_ID]")
	fmt.Println("Print the node tree of a release. Without --root every root is printed.")
}

var jobActionHelp = map[string]string{
	"import": "Usage: csdb job import [--config PATH] [--release NAME|ID] [--language TAG] [--user NAME] [--root NODE_ID]\n" +
		"                       [--schema-for-folder NAME] [--schema-for-xml NAME] [--schema-for-binary NAME] <archive>\n" +
		"Queue an archive import. The job runs on a server started with 'csdb system start'.",
	"migrate": "Usage: csdb job migrate [--config PATH] --release NAME|ID --from VERSION_ID --to VERSION_ID [--user NAME]\n" +
		"Queue a migration of every node bound to one schema version onto another.",
	"list":    "Usage: csdb job list [--config PATH] [--status STATUS] [--type TYPE] [--limit N] [--json]",
	"get":     "Usage: csdb job get [--config PATH] <job_id>\nPrint the job as JSON.",
	"inspect": "Usage: csdb job inspect [--config PATH] [--json] <job_id>\nShow job properties, migration edge and workspace files.",
	"watch":   "Usage: csdb job watch [--api-url URL] [--api-key KEY] <job_id>\nFollow a job in the TUI. Exits 0 when it completes and 2 when it fails.",
	"reset":   "Usage: csdb job reset [--config PATH] <job_id>\nRequeue a job that is not running.",
	"delete":  "Usage: csdb job delete [--config PATH] <job_id>\nDelete a job that is not running.",
}

// resolveRelease accepts a release ID or name.
func resolveRelease(ctx context.Context, store *content.Store, ref string) (*content.Release, error) {
	ref = strings.TrimSpace(ref)
	rel, err := store.Release(ctx, ref)
	if errors.Is(err, content.ErrNotFound) {
		rel, err = store.ReleaseByName(ctx, ref)
	}
	if errors.Is(err, content.ErrNotFound) {
		return nil, fmt.Errorf("release %q not found", ref)
	}
	return rel, err
}

func runContentInit(args []string) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	language := fs.String("language", "en", "Content language tag")
	release := fs.String("release", "main", "Release name")
	root := fs.String("root", "root", "Root folder name")
	user := fs.String("user", currentUser(), "Creator recorded on new entities")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	ctx := context.Background()
	s, err := openForTool(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = s.Close() }()

	seeded, err := s.Init(ctx, content.SeedOptions{
		Language: *language,
		Release:  *release,
		Creator:  *user,
		RootName: *root,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	fmt.Printf("language: %s\n", seeded.Language.Tag)
	fmt.Printf("release:  %s (%s)\n", seeded.Release.Name, seeded.Release.ID)
	fmt.Printf("schemas:  %s v%d, %s v%d, %s v%d\n",
		seeded.Folder.SchemaName, seeded.Folder.Version,
		seeded.XML.SchemaName, seeded.XML.Version,
		seeded.Binary.SchemaName, seeded.Binary.Version)
	fmt.Printf("root:     %s\n", seeded.Root.ID)
	return 0
}

func runContentTree(args []string) int {
	fs := flag.NewFlagSet("tree", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	release := fs.String("release", "main", "Release name or ID")
	language := fs.String("language", "en", "Language of display values")
	root := fs.String("root", "", "Root node ID")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	ctx := context.Background()
	s, err := openForTool(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = s.Close() }()

	rel, err := resolveRelease(ctx, s.Content, *release)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	roots := []string{*root}
	if *root == "" {
		nodes, err := s.Content.Roots(ctx, rel.ID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		roots = roots[:0]
		for _, n := range nodes {
			roots = append(roots, n.ID)
		}
	}

	for _, id := range roots {
		entries, err := s.Content.Tree(ctx, id, rel.ID, *language)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		fmt.Println(id)
		for _, e := range entries {
			fmt.Printf("%s%s\n", strings.Repeat("  ", e.Depth+1), e.DisplayValue)
		}
	}
	return 0
}

func runJobImport(args []string) int {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	release := fs.String("release", "main", "Release name or ID")
	language := fs.String("language", "en", "Content language tag")
	user := fs.String("user", currentUser(), "Job creator")
	root := fs.String("root", "", "Node ID the archive is imported under")
	folderSchema := fs.String("schema-for-folder", "", "Schema for directories")
	xmlSchema := fs.String("schema-for-xml", "", "Schema for XML documents")
	binarySchema := fs.String("schema-for-binary", "", "Schema for other files")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, jobActionHelp["import"])
		return 1
	}

	ctx := context.Background()
	s, err := openForTool(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = s.Close() }()

	rel, err := resolveRelease(ctx, s.Content, *release)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	req, err := importer.NewEnqueueRequest(*user, rel.ID, importer.Properties{
		Language:    *language,
		ArchivePath: fs.Arg(0),
		Root:        *root,
		Overrides: importer.Overrides{
			Folder: *folderSchema,
			XML:    *xmlSchema,
			Binary: *binarySchema,
		},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return enqueue(ctx, s, req)
}

func runJobMigrate(args []string) int {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	release := fs.String("release", "main", "Release name or ID")
	from := fs.String("from", "", "Schema version ID nodes are bound to now")
	to := fs.String("to", "", "Schema version ID to bind them to")
	user := fs.String("user", currentUser(), "Job creator")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}
	if *from == "" || *to == "" {
		fmt.Fprintln(os.Stderr, jobActionHelp["migrate"])
		return 1
	}

	ctx := context.Background()
	s, err := openForTool(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = s.Close() }()

	rel, err := resolveRelease(ctx, s.Content, *release)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	for _, id := range []string{*from, *to} {
		if _, err := s.Content.SchemaVersion(ctx, id); err != nil {
			fmt.Fprintf(os.Stderr, "Error: schema version %q: %v\n", id, err)
			return 1
		}
	}
	return enqueue(ctx, s, migrate.NewEnqueueRequest(*user, rel.ID, *from, *to))
}

func enqueue(ctx context.Context, s *system.System, req job.EnqueueRequest) int {
	id, err := s.Jobs.Enqueue(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println(id)
	return 0
}

func runJobList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	status := fs.String("status", "", "Only jobs with this status")
	jobType := fs.String("type", "", "Only jobs of this type")
	limit := fs.Int("limit", 20, "Maximum number of jobs")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	filter := job.ListFilter{Type: job.Type(*jobType), Limit: *limit}
	if *status != "" {
		filter.Status = job.ParseStatus(strings.ToUpper(*status))
		if filter.Status == job.StatusUnknown {
			fmt.Fprintf(os.Stderr, "Unknown status: %s\n", *status)
			return 1
		}
	}

	ctx := context.Background()
	s, err := openForTool(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = s.Close() }()

	jobs, err := s.Jobs.List(ctx, filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	if *jsonOut {
		return printJSON(api.JobListResponse{Jobs: jobs})
	}

	if len(jobs) == 0 {
		fmt.Println("No jobs.")
		return 0
	}
	fmt.Printf("%-36s  %-16s  %-9s  %5s  %s\n", "ID", "TYPE", "STATUS", "DONE", "CREATED")
	for _, j := range jobs {
		fmt.Printf("%-36s  %-16s  %-9s  %5d  %s\n",
			j.ID, j.Type, j.Status, j.CompletionCount, j.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
	return 0
}

// singleJobArgs parses a command taking one job ID and the --config flag.
func singleJobArgs(name string, args []string, extra func(*flag.FlagSet)) (string, string, bool) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if extra != nil {
		extra(fs)
	}
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return "", "", false
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, jobActionHelp[name])
		return "", "", false
	}
	return *configPath, strings.TrimSpace(fs.Arg(0)), true
}

func reportJobError(id string, err error) int {
	switch {
	case errors.Is(err, job.ErrJobNotFound):
		fmt.Fprintf(os.Stderr, "Job not found: %s\n", id)
	case errors.Is(err, job.ErrJobActive):
		fmt.Fprintf(os.Stderr, "Job %s is running\n", id)
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	return 1
}

func runJobGet(args []string) int {
	configPath, id, ok := singleJobArgs("get", args, nil)
	if !ok {
		return 1
	}

	ctx := context.Background()
	s, err := openForTool(ctx, configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = s.Close() }()

	j, err := s.Jobs.Get(ctx, id)
	if err != nil {
		return reportJobError(id, err)
	}
	return printJSON(j)
}

func runJobInspect(args []string) int {
	var jsonOut bool
	configPath, id, ok := singleJobArgs("inspect", args, func(fs *flag.FlagSet) {
		fs.BoolVar(&jsonOut, "json", false, "Output in structured JSON format")
	})
	if !ok {
		return 1
	}

	ctx := context.Background()
	s, err := openForTool(ctx, configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = s.Close() }()

	build := inspect.BuildReport
	if jsonOut {
		build = inspect.BuildJSONReport
	}
	report, err := build(ctx, s.Jobs, s.Workspaces, id)
	if err != nil {
		return reportJobError(id, err)
	}
	fmt.Println(report)
	return 0
}

func runJobReset(args []string) int {
	configPath, id, ok := singleJobArgs("reset", args, nil)
	if !ok {
		return 1
	}

	ctx := context.Background()
	s, err := openForTool(ctx, configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = s.Close() }()

	if err := s.Jobs.Reset(ctx, id); err != nil {
		return reportJobError(id, err)
	}
	fmt.Printf("Requeued %s\n", id)
	return 0
}

func runJobDelete(args []string) int {
	configPath, id, ok := singleJobArgs("delete", args, nil)
	if !ok {
		return 1
	}

	ctx := context.Background()
	s, err := openForTool(ctx, configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = s.Close() }()

	if err := s.Jobs.Delete(ctx, id); err != nil {
		return reportJobError(id, err)
	}
	if err := s.Workspaces.Remove(ctx, id); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: workspace of %s not removed: %v\n", id, err)
	}
	fmt.Printf("Deleted %s\n", id)
	return 0
}

func runJobWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:8080", "Server API URL")
	apiKey := fs.String("api-key", os.Getenv("CSDB_API_KEY"), "API key")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, jobActionHelp["watch"])
		return 1
	}

	final, err := watch.Run(watch.Options{
		APIURL:       *apiURL,
		APIKey:       *apiKey,
		JobID:        fs.Arg(0),
		ExitOnFinish: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return exitCodeForStatus(final.FinalStatus())
}

func runPopulatorList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output in structured JSON format")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	ctx := context.Background()
	s, err := openForTool(ctx, *configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	defer func() { _ = s.Close() }()

	resp := api.PopulatorListResponse{}
	for _, p := range s.Populators.All() {
		resp.Populators = append(resp.Populators, api.PopulatorSummary{Name: p.Name(), Priority: p.Priority()})
	}
	if *jsonOut {
		return printJSON(resp)
	}
	for _, p := range resp.Populators {
		fmt.Printf("%-24s %6d\n", p.Name, p.Priority)
	}
	return 0
}

func currentUser() string {
	for _, key := range []string{"CSDB_USER", "USER", "USERNAME"} {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
	}
	return "cli"
}
