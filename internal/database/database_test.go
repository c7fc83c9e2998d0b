package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_DSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, User: "ap", Password: "p@ss word", Database: "claims", SSLMode: "disable"}

	assert.Equal(t, "postgres://ap:p%40ss%20word@db:5432/claims?sslmode=disable", cfg.DSN())
}
