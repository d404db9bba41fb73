package replicate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/secrets-replicator/internal/destinations"
)

func TestValidateCleanConfiguration(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.source.
		WithSecret(destinations.DefaultDestinationsKey, `[
			{"region":"us-west-2","filters":"prod","secret_names":"renames","transforms":"region-swap"},
			{"region":"eu-west-1","filters":"prod"}
		]`).
		WithSecret("secrets-replicator/filters/prod", `{"app/*":"json:promote","db/*":""}`).
		WithSecret("secrets-replicator/names/renames", `{"app/*":"replica/app/*"}`).
		WithSecret(regionSwapKey, `s/us-east-1/${DEST_REGION}/g`).
		WithSecret("secrets-replicator/transformations/promote", `[{"path":"$.env","find":"staging","replace":"prod"}]`)

	problems, err := h.orchestrator().Validate(context.Background())

	require.NoError(t, err)
	assert.Empty(t, problems)
	assert.Equal(t, 0, len(h.source.Writes()))
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.source.
		WithSecret(destinations.DefaultDestinationsKey, `[
			{"region":"us-west-2","filters":"broken","transforms":"region-swap"},
			{"region":"eu-west-1","secret_names":"missing","transforms":"uses-var"}
		]`).
		WithSecret("secrets-replicator/filters/broken", `["not","an","object"]`).
		WithSecret(regionSwapKey, `s/us-east-1/`).
		WithSecret("secrets-replicator/transformations/uses-var", `s/x/${UNKNOWN}/`)

	problems, err := h.orchestrator().Validate(context.Background())

	require.NoError(t, err)
	require.Len(t, problems, 4)

	assert.Equal(t, "us-west-2", problems[0].Destination)
	assert.Equal(t, "secrets-replicator/filters/broken", problems[0].Key)
	assert.Contains(t, problems[0].Message, "JSON object")

	assert.Equal(t, "region-swap", problems[1].Key)
	assert.Contains(t, problems[1].Message, "region-swap")

	assert.Equal(t, "eu-west-1", problems[2].Destination)
	assert.Equal(t, "secrets-replicator/names/missing", problems[2].Key)

	assert.Equal(t, "uses-var", problems[3].Key)
	assert.Contains(t, problems[3].Message, "undefined variable ${UNKNOWN}")
	assert.Contains(t, problems[3].String(), "eu-west-1: uses-var: ")
}

func TestValidateUsesInlineSpecs(t *testing.T) {
	t.Parallel()

	h := newHarness()
	h.source.WithSecret(regionSwapKey, `s/us-east-1/${DEST_REGION}/g`)

	specs := []destinations.Spec{{Region: "us-west-2", Transforms: "region-swap"}}
	problems, err := h.orchestrator(WithSpecs(specs)).Validate(context.Background())

	require.NoError(t, err)
	assert.Empty(t, problems)
}

func TestValidateMissingDestinationList(t *testing.T) {
	t.Parallel()

	h := newHarness()
	_, err := h.orchestrator().Validate(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), destinations.DefaultDestinationsKey)
}
