package graphcodec

import (
	"github.com/latticefact/runtime/internal/canonical"
	"github.com/latticefact/runtime/internal/facts"
)

func hashOf(fields map[string]facts.FieldValue, preds map[string]facts.Predecessor) (string, error) {
	return canonical.Hash(fields, preds)
}
