package rag

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorfClassifies(t *testing.T) {
	err := Errorf(KindValidation, "query must not be empty")

	assert.Equal(t, KindValidation, KindOf(err))
	assert.True(t, IsKind(err, KindValidation))
	assert.Equal(t, "query must not be empty", err.Error())
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindStore, "insert failed", cause)

	assert.Equal(t, KindStore, KindOf(err))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "insert failed: connection refused", err.Error())
}

func TestKindOfSurvivesOuterWrapping(t *testing.T) {
	inner := Errorf(KindRemote, "embedding backend returned 503")
	outer := fmt.Errorf("search stage: %w", inner)

	assert.Equal(t, KindRemote, KindOf(outer))
}

func TestKindOfUnclassified(t *testing.T) {
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestKindStrings(t *testing.T) {
	assert.Equal(t, "validation", KindValidation.String())
	assert.Equal(t, "capacity", KindCapacity.String())
	assert.Equal(t, "unknown", KindUnknown.String())
}
