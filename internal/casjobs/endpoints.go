package casjobs

import "strings"

type endpoint int

const (
	endpointSchemaName endpoint = iota
	endpointTables
	endpointQuery
	endpointSubmitJob
	endpointJob
	endpointUpload
)

const (
	placeholderContext = "<context>"
	placeholderJobID   = "<job_id>"
	placeholderTable   = "<tablename>"
	placeholderTask    = "<taskname>"
	placeholderUser    = "<keystone_user_id>"
)

var endpointPaths = map[endpoint]string{
	endpointSchemaName: "/users/" + placeholderUser,
	endpointTables:     "/contexts/" + placeholderContext + "/Tables",
	endpointQuery:      "/contexts/" + placeholderContext + "/query",
	endpointSubmitJob:  "/contexts/" + placeholderContext + "/jobs",
	endpointJob:        "/jobs/" + placeholderJobID,
	endpointUpload:     "/contexts/" + placeholderContext + "/Tables/" + placeholderTable,
}

// urlTemplates maps every endpoint to a full URL pattern rooted at the REST URI.
type urlTemplates map[endpoint]string

func buildTemplates(restURI string) urlTemplates {
	base := strings.TrimRight(restURI, "/")
	t := make(urlTemplates, len(endpointPaths))
	for e, path := range endpointPaths {
		t[e] = base + path + "?TaskName=" + placeholderTask
	}
	return t
}

// urlParams carries the values substituted into a template. Values are inserted verbatim.
type urlParams struct {
	Context  string
	JobID    string
	Table    string
	TaskName string
	UserID   string
}

func (t urlTemplates) resolve(e endpoint, p urlParams) string {
	r := strings.NewReplacer(
		placeholderContext, p.Context,
		placeholderJobID, p.JobID,
		placeholderTable, p.Table,
		placeholderTask, p.TaskName,
		placeholderUser, p.UserID,
	)
	return r.Replace(t[e])
}
