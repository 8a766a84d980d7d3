package casjobs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveEndpoints(t *testing.T) {
	urls := buildTemplates("https://casjobs.example/RestApi/")
	p := urlParams{Context: "DR16", JobID: "77", Table: "Targets", TaskName: "T", UserID: "u1"}

	cases := map[endpoint]string{
		endpointSchemaName: "https://casjobs.example/RestApi/users/u1?TaskName=T",
		endpointTables:     "https://casjobs.example/RestApi/contexts/DR16/Tables?TaskName=T",
		endpointQuery:      "https://casjobs.example/RestApi/contexts/DR16/query?TaskName=T",
		endpointSubmitJob:  "https://casjobs.example/RestApi/contexts/DR16/jobs?TaskName=T",
		endpointJob:        "https://casjobs.example/RestApi/jobs/77?TaskName=T",
		endpointUpload:     "https://casjobs.example/RestApi/contexts/DR16/Tables/Targets?TaskName=T",
	}
	for e, want := range cases {
		assert.Equal(t, want, urls.resolve(e, p))
	}
}

func TestResolveEmptyJobIDListsJobs(t *testing.T) {
	urls := buildTemplates("http://h/RestApi")
	assert.Equal(t, "http://h/RestApi/jobs/?TaskName=x", urls.resolve(endpointJob, urlParams{TaskName: "x"}))
}
