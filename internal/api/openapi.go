package api

// route is one documented endpoint.
type route struct {
	method    string
	path      string
	id        string
	summary   string
	responses map[string]string
	public    bool
}

var routes = []route{
	{method: "get", path: "/healthz", id: "healthz", summary: "Liveness and queue depth", public: true,
		responses: map[string]string{"200": "Healthy"}},
	{method: "get", path: "/metrics", id: "metrics", summary: "Prometheus metrics", public: true,
		responses: map[string]string{"200": "Metrics in text exposition format"}},
	{method: "get", path: "/populators", id: "listPopulators", summary: "Populators in selection order",
		responses: map[string]string{"200": "Populator list"}},
	{method: "get", path: "/jobs", id: "listJobs", summary: "List jobs, newest first",
		responses: map[string]string{"200": "Job list", "400": "Bad filter"}},
	{method: "post", path: "/jobs/import", id: "importArchive", summary: "Queue an archive import",
		responses: map[string]string{"202": "Job queued", "400": "Bad request", "404": "Release not found"}},
	{method: "get", path: "/jobs/{jobID}", id: "getJob", summary: "Job status and progress",
		responses: map[string]string{"200": "Job", "404": "Job not found"}},
	{method: "post", path: "/jobs/{jobID}/reset", id: "resetJob", summary: "Return a finished job to the queue",
		responses: map[string]string{"200": "Job queued", "404": "Job not found", "409": "Job is running"}},
	{method: "delete", path: "/jobs/{jobID}", id: "deleteJob", summary: "Delete a job that is not running",
		responses: map[string]string{"204": "Deleted", "404": "Job not found", "409": "Job is running"}},
	{method: "get", path: "/events", id: "events", summary: "Server-sent job lifecycle and progress events",
		responses: map[string]string{"200": "Event stream"}},
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the routes.
func buildOpenAPIDoc(withAuth bool) map[string]any {
	paths := map[string]any{}
	for _, rt := range routes {
		responses := map[string]any{}
		for code, desc := range rt.responses {
			responses[code] = map[string]any{"description": desc}
		}
		if withAuth && !rt.public {
			responses["401"] = map[string]any{"description": "Missing or invalid API key"}
		}

		operation := map[string]any{
			"operationId": rt.id,
			"summary":     rt.summary,
			"responses":   responses,
		}
		if withAuth && !rt.public {
			operation["security"] = []any{map[string]any{"BearerAuth": []string{}}}
		}

		item, ok := paths[rt.path].(map[string]any)
		if !ok {
			item = map[string]any{}
			paths[rt.path] = item
		}
		item[rt.method] = operation
	}

	doc := map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "csdb",
			"version": "1.0",
		},
		"paths": paths,
	}
	if withAuth {
		doc["components"] = map[string]any{
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		}
	}
	return doc
}
