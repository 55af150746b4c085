package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSecretVersionPins(t *testing.T) {
	got := secretVersionPins(" app_secret=3, prod:wallet_api_key=7 ,sm://redis_password=2, broken, =1")
	assert.Equal(t, map[string]string{
		"secret://app_secret":          "3",
		"prod:secret://wallet_api_key": "7",
		"secret://redis_password":      "2",
	}, got)
}

func TestSecretProjectMap(t *testing.T) {
	assert.Equal(t, map[string]string{"prod": "gk-prod", "stg": "gk-stg"}, secretProjectMap("PROD=gk-prod,stg=gk-stg,dev="))
	assert.Empty(t, secretProjectMap(""))
}

func TestRequiredSecretNames(t *testing.T) {
	assert.Equal(t, []string{"Security.AppSecret"}, requiredSecretNames(nil))
	assert.Equal(t, []string{"Redis.Password", "Security.AppSecret", "Wallet.APIKey"}, requiredSecretNames(map[string]string{
		"API_WALLET_BASE_URL": "https://wallet.internal",
		"API_WALLET_API_KEY":  "secret://wallet_api_key",
		"API_REDIS_ADDR":      "redis:6379",
		"API_REDIS_PASSWORD":  "secret://redis_password",
	}))
	assert.Equal(t, []string{"Security.AppSecret"}, requiredSecretNames(map[string]string{"API_WALLET_API_KEY": "x"}))
}
