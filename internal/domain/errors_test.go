package domain

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrTableNotFound_SurvivesWrapping(t *testing.T) {
	err := errors.Wrapf(ErrTableNotFound, "get table %s", TableRef{ProjectID: "p", DatasetID: "d", TableID: "User"})

	assert.True(t, errors.Is(err, ErrTableNotFound))
	assert.Equal(t, ErrTableNotFound, errors.Cause(err))
	assert.Contains(t, err.Error(), "p:d.User")
}
