package provider

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCredentialResolverOrder(t *testing.T) {
	primary := StaticSource{
		"openai": {APIKey: "sk-primary"},
	}
	secondary := StaticSource{
		"openai":    {APIKey: "sk-secondary", APIBase: "https://secondary.example.com"},
		"stability": {APIKey: "sk-stability"},
	}
	r := NewCredentialResolver(primary, secondary)

	// 第一优先级命中即返回，不再向后找
	assert.Equal(t, "sk-primary", r.Resolve("openai").APIKey)
	// 第一优先级没有的条目落到第二优先级
	assert.Equal(t, "sk-stability", r.Resolve("stability").APIKey)
	// 谁都没有的返回零值
	assert.Empty(t, r.Resolve("gemini").APIKey)
}

func TestCredentialResolverMergesAPIBase(t *testing.T) {
	// 前面的策略只提供 APIBase，后面的提供 Key：两者合并
	baseOnly := StaticSource{
		"openai": {APIBase: "https://proxy.example.com"},
	}
	keyOnly := StaticSource{
		"openai": {APIKey: "sk-real"},
	}
	r := NewCredentialResolver(baseOnly, keyOnly)

	cred := r.Resolve("openai")
	assert.Equal(t, "sk-real", cred.APIKey)
	assert.Equal(t, "https://proxy.example.com", cred.APIBase)
}

func TestEnvSourceNaming(t *testing.T) {
	t.Setenv("HUGGINGFACE_API_KEY", "hf_from_env")
	t.Setenv("HUGGINGFACE_API_BASE", "https://hf.example.com")

	cred, ok := EnvSource{}.Lookup("huggingface")
	assert.True(t, ok)
	assert.Equal(t, "hf_from_env", cred.APIKey)
	assert.Equal(t, "https://hf.example.com", cred.APIBase)

	_, ok = EnvSource{}.Lookup("never-set-provider")
	assert.False(t, ok)
}
