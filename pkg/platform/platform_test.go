package platform

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenerOfRule(t *testing.T) {
	for _, c := range []struct {
		rule, listener string
	}{
		{
			"arn:aws:elasticloadbalancing:us-east-1:123456789012:listener-rule/app/web/50dc6c495c0c9188/f2f7dc8efc522ab2/9683b2d02a6cabee",
			"arn:aws:elasticloadbalancing:us-east-1:123456789012:listener/app/web/50dc6c495c0c9188/f2f7dc8efc522ab2",
		},
		{"arn:aws:elasticloadbalancing:us-east-1:123456789012:listener/app/web/x/y", ""},
		{"nonsense", ""},
	} {
		assert.Equal(t, c.listener, ListenerOfRule(c.rule), c.rule)
	}
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, IsNotFound(fmt.Errorf("rule x: %w", ErrNotFound)))
	assert.False(t, IsNotFound(ErrInUse))
	assert.True(t, IsInUse(fmt.Errorf("tg: %w", ErrInUse)))
}

func TestParseImage(t *testing.T) {
	ref, err := ParseImage("123456789012.dkr.ecr.us-east-1.amazonaws.com/web:v1.2")
	require.NoError(t, err)
	assert.Equal(t, "123456789012.dkr.ecr.us-east-1.amazonaws.com", ref.Domain)
	assert.Equal(t, "web", ref.Repository)
	assert.Equal(t, "v1.2", ref.Tag)
	id, region, ok := ref.ECRRegistry()
	assert.True(t, ok)
	assert.Equal(t, "123456789012", id)
	assert.Equal(t, "us-east-1", region)

	ref, err = ParseImage("nginx")
	require.NoError(t, err)
	assert.Equal(t, "docker.io", ref.Domain)
	assert.Equal(t, "library/nginx", ref.Repository)
	assert.Equal(t, "latest", ref.Tag)
	_, _, ok = ref.ECRRegistry()
	assert.False(t, ok)

	ref, err = ParseImage("quay.io/org/app@sha256:" + "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855")
	require.NoError(t, err)
	assert.Equal(t, "", ref.Tag)
	assert.Equal(t, "sha256", string(ref.Digest.Algorithm()))

	_, err = ParseImage("UPPER/case")
	assert.Error(t, err)
}
