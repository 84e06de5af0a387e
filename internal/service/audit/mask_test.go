package audit

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/josh-kwaku/casino-wallet-core/internal/domain"
)

func TestMask(t *testing.T) {
	in := domain.JSONMap{
		"Authorization": "Bearer abc",
		"amount":        "50.00",
		"headers": map[string]any{
			"Cookie":     "session=1",
			"Set-Cookie": "session=2",
			"x-trace":    "t-1",
		},
		"items": []any{
			map[string]any{"api_key": "k", "name": "first"},
			"plain",
		},
		"nested": domain.JSONMap{
			"deeper": map[string]any{"PASSWORD": "hunter2", "Secret": "s", "token": "t"},
		},
		"labels": map[string]string{"token": "x", "region": "eu"},
	}

	out := Mask(in)

	assert.Equal(t, "***", out["Authorization"])
	assert.Equal(t, "50.00", out["amount"])

	headers := out["headers"].(map[string]any)
	assert.Equal(t, "***", headers["Cookie"])
	assert.Equal(t, "***", headers["Set-Cookie"])
	assert.Equal(t, "t-1", headers["x-trace"])

	items := out["items"].([]any)
	assert.Equal(t, "***", items[0].(map[string]any)["api_key"])
	assert.Equal(t, "first", items[0].(map[string]any)["name"])
	assert.Equal(t, "plain", items[1])

	deeper := out["nested"].(map[string]any)["deeper"].(map[string]any)
	assert.Equal(t, "***", deeper["PASSWORD"])
	assert.Equal(t, "***", deeper["Secret"])
	assert.Equal(t, "***", deeper["token"])

	labels := out["labels"].(map[string]any)
	assert.Equal(t, "***", labels["token"])
	assert.Equal(t, "eu", labels["region"])
}

func TestMask_DoesNotModifyInput(t *testing.T) {
	inner := map[string]any{"token": "t"}
	in := domain.JSONMap{"password": "p", "inner": inner}

	_ = Mask(in)

	assert.Equal(t, "p", in["password"])
	assert.Equal(t, "t", inner["token"])
}

func TestMask_Nil(t *testing.T) {
	assert.Nil(t, Mask(nil))
}
