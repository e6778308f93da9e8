package sqlinline

import (
	"strings"
	"testing"

	"pinstrategy/internal/infra"
)

var allQueries = map[string]string{
	"QEnsureRunSchema":        QEnsureRunSchema,
	"QInsertPipelineRun":      QInsertPipelineRun,
	"QDeleteContentPacks":     QDeleteContentPacks,
	"QInsertContentPack":      QInsertContentPack,
	"QSelectPipelineRun":      QSelectPipelineRun,
	"QSelectContentPacks":     QSelectContentPacks,
	"QListSessionRuns":        QListSessionRuns,
	"QSelectIntegrationToken": QSelectIntegrationToken,
	"QUpsertIntegrationToken": QUpsertIntegrationToken,
}

func TestQueriesCarryUniqueMarkers(t *testing.T) {
	seen := map[string]string{}
	for name, q := range allQueries {
		marker, stmt, err := infra.ExtractMarker(q)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if strings.TrimSpace(stmt) == "" {
			t.Fatalf("%s: empty statement", name)
		}
		if other, ok := seen[marker]; ok {
			t.Fatalf("%s reuses marker %s from %s", name, marker, other)
		}
		seen[marker] = name
	}
}
