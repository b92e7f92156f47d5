package uuidgen

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	tests := []struct {
		kind    Kind
		version uuid.Version
	}{
		{KindSession, 7},
		{KindRateEntry, 4},
		{Kind("other"), 4},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			id, err := New(tt.kind)
			require.NoError(t, err)
			assert.Equal(t, tt.version, id.Version())
		})
	}
}

func TestMustString_SessionIDsSort(t *testing.T) {
	first := MustString(KindSession)
	second := MustString(KindSession)
	assert.NotEqual(t, first, second)
	assert.LessOrEqual(t, first, second)

	_, err := uuid.Parse(first)
	assert.NoError(t, err)
}
