package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllIsOrdered(t *testing.T) {
	all, err := All()
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "001_remediation_records.sql", all[0].Name)
	assert.Contains(t, all[0].SQL, "seq BIGSERIAL")
	assert.Equal(t, "002_remediation_records_indexes.sql", all[1].Name)
}
