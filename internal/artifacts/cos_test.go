package artifacts

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCOSStore_Validation(t *testing.T) {
	t.Run("MissingBucket", func(t *testing.T) {
		_, err := NewCOSStore(&COSConfig{Region: "ap-guangzhou", SecretID: "id", SecretKey: "key"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "bucket and region are required")
	})

	t.Run("MissingCredentials", func(t *testing.T) {
		_, err := NewCOSStore(&COSConfig{Bucket: "b", Region: "ap-guangzhou"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "credentials are required")
	})

	t.Run("ValidConfig", func(t *testing.T) {
		store, err := NewCOSStore(&COSConfig{Bucket: "b", Region: "ap-guangzhou", SecretID: "id", SecretKey: "key"})
		assert.NoError(t, err)
		assert.NotNil(t, store)
	})
}

func TestCOSStore_GetURL(t *testing.T) {
	store, err := NewCOSStore(&COSConfig{Bucket: "my-bucket", Region: "ap-guangzhou", SecretID: "id", SecretKey: "key"})
	assert.NoError(t, err)

	assert.Equal(t, "https://my-bucket.cos.ap-guangzhou.myqcloud.com/handle/1.json", store.GetURL("handle/1.json"))
}

func TestValidateConfig(t *testing.T) {
	t.Run("NilConfig", func(t *testing.T) {
		err := ValidateConfig(nil)
		assert.Error(t, err)
	})

	t.Run("InvalidType", func(t *testing.T) {
		err := ValidateConfig(&Config{Type: "s3"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "unsupported store type")
	})

	t.Run("COSMissingBucket", func(t *testing.T) {
		err := ValidateConfig(&Config{Type: "cos", Region: "ap-guangzhou", SecretID: "id", SecretKey: "key"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "COS bucket is required")
	})

	t.Run("ValidLocal", func(t *testing.T) {
		assert.NoError(t, ValidateConfig(&Config{Type: "local"}))
	})
}
