package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func TestFromViperDefaults(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	cfg := fromViper(v)

	assert.Equal(t, EnvDevelopment, cfg.Env)
	assert.Equal(t, "/api/v1", cfg.APIPrefix)
	assert.Equal(t, []string{"warden"}, cfg.Leave.OutingChain)
	assert.Equal(t, []string{"warden", "dean"}, cfg.Leave.OutpassChain)
	assert.Equal(t, 14, cfg.Leave.OutpassMaxDays)
	assert.Equal(t, 24*time.Hour, cfg.JWT.Expiration)
	assert.Equal(t, 10*time.Second, cfg.Mail.Timeout)
	assert.Empty(t, cfg.Mail.RoleRecipients)
	assert.Equal(t, int64(5*1024*1024), cfg.Ingestion.MaxUploadBytes)
	assert.True(t, cfg.Ingestion.RecoverOnStartup)
	assert.Equal(t, 5*time.Minute, cfg.Cache.ProfileTTL)
}

func TestFromViperOverrides(t *testing.T) {
	v := viper.New()
	setDefaults(v)
	v.Set("LEAVE_OUTPASS_CHAIN", " warden , hod ,dean ")
	v.Set("MAIL_ROLE_RECIPIENTS", "Warden=warden@campus.test, dean = dean@campus.test,broken,=x")
	v.Set("JWT_EXPIRATION", "not-a-duration")
	v.Set("INGESTION_RETRY_DELAY", "250ms")

	cfg := fromViper(v)
	assert.Equal(t, []string{"warden", "hod", "dean"}, cfg.Leave.OutpassChain)
	assert.Equal(t, map[string]string{"warden": "warden@campus.test", "dean": "dean@campus.test"}, cfg.Mail.RoleRecipients)
	assert.Equal(t, 24*time.Hour, cfg.JWT.Expiration)
	assert.Equal(t, 250*time.Millisecond, cfg.Ingestion.RetryDelay)
}

func TestSplitAndTrim(t *testing.T) {
	assert.Nil(t, splitAndTrim(""))
	assert.Equal(t, []string{"a", "b"}, splitAndTrim("a, ,b,"))
}
