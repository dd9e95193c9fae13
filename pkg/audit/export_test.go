package audit

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exportFixture() []*Entry {
	ts := time.Date(2024, 5, 2, 14, 30, 0, 0, time.UTC)
	return []*Entry{
		{
			ID: "e-1", Timestamp: ts, ActorID: "emp-1", ActorName: "Carla, Admin", ActorRole: "Admin",
			Module: "funcionarios", Action: ActionPermissionChange, TargetType: "employee", TargetID: "Ana",
			DiffBefore: map[string]interface{}{}, DiffAfter: map[string]interface{}{"cobrancas": map[string]bool{"view": true}},
		},
		{ID: "e-2", Timestamp: ts.Add(-time.Minute), ActorName: "Ana", Module: "auth", Action: ActionLogin},
	}
}

func TestParseExportFormat(t *testing.T) {
	f, err := ParseExportFormat("")
	require.NoError(t, err)
	assert.Equal(t, ExportFormatCSV, f)

	f, err = ParseExportFormat(" NDJSON ")
	require.NoError(t, err)
	assert.Equal(t, ExportFormatNDJSON, f)

	_, err = ParseExportFormat("xlsx")
	assert.Error(t, err)
}

func TestExport_CSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, exportFixture(), ExportFormatCSV))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, csvHeader, rows[0])
	assert.Equal(t, "Carla, Admin", rows[1][3])
	assert.Equal(t, "2024-05-02T14:30:00Z", rows[1][1])
	assert.Equal(t, "{}", rows[1][12])
	assert.JSONEq(t, `{"cobrancas":{"view":true}}`, rows[1][13])
	assert.Equal(t, "", rows[2][12])
}

func TestExport_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, nil, ExportFormatJSON))
	assert.JSONEq(t, `[]`, buf.String())

	buf.Reset()
	require.NoError(t, Export(&buf, exportFixture(), ExportFormatJSON))
	var decoded []Entry
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Len(t, decoded, 2)
	assert.Equal(t, "Ana", decoded[0].TargetID)
}

func TestExport_NDJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Export(&buf, exportFixture(), ExportFormatNDJSON))

	lines := 0
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		lines++
	}
	assert.Equal(t, 2, lines)
}

func TestExport_UnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Error(t, Export(&buf, exportFixture(), ExportFormat("xml")))
}
