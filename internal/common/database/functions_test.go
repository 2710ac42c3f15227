package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCreateConnectionString(t *testing.T) {
	assert.Equal(t, "host='localhost'", CreateConnectionString(map[string]string{"host": "localhost"}))
	assert.Equal(t, `password='it\'s'`, CreateConnectionString(map[string]string{"password": "it's"}))
}
