package commands

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tasknest/tasknest-cli/internal/gateway"
	"github.com/tasknest/tasknest-cli/internal/output"
)

func TestMe(t *testing.T) {
	env := newTestEnv(t)

	err := env.run(NewMeCmd())
	assert.True(t, output.IsCode(err, output.CodeAuth))

	env.signIn()
	require.NoError(t, env.run(NewMeCmd()))
	out := decodeEnvelope[gateway.User](t, env.stdout)
	assert.Equal(t, 1, out.Data.ID)
	assert.Equal(t, "emilys", out.Data.Username)
	assert.Equal(t, "Emily Johnson (emily.johnson@x.dummyjson.com)", out.Summary)
}
