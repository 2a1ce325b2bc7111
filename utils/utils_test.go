/*
 * Copyright 2025 tomoncle.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package utils

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("DAL_TEST_STRING", "value")
	t.Setenv("DAL_TEST_BOOL", "true")
	t.Setenv("DAL_TEST_INT", " 42 ")
	t.Setenv("DAL_TEST_BAD_INT", "forty")

	assert.Equal(t, "value", EnvDefaultString("DAL_TEST_STRING", "def"))
	assert.Equal(t, "def", EnvDefaultString("DAL_TEST_UNSET", "def"))
	assert.True(t, EnvDefaultBool("DAL_TEST_BOOL", false))
	assert.Equal(t, 42, EnvDefaultInt("DAL_TEST_INT", 0))
	assert.Equal(t, 7, EnvDefaultInt("DAL_TEST_BAD_INT", 7))
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "REPORTING_DB_HOST", EnvKey("Reporting", "DB_HOST"))
	assert.Equal(t, "AUDIT_LOG_DB_HOST", EnvKey("audit-log", "DB_HOST"))
	assert.Equal(t, "DB_HOST", EnvKey("  ", "DB_HOST"))
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, logrus.WarnLevel, ParseLogLevel(" WARNING "))
	assert.Equal(t, logrus.InfoLevel, ParseLogLevel(""))
	assert.Equal(t, logrus.InfoLevel, ParseLogLevel("verbose"))
}

func testEntry(data logrus.Fields) *logrus.Entry {
	return &logrus.Entry{
		Logger:  logrus.New(),
		Data:    data,
		Time:    time.Date(2025, 1, 2, 15, 4, 5, 0, time.UTC),
		Level:   logrus.InfoLevel,
		Message: "changes saved",
	}
}

func TestLog4jFormatter(t *testing.T) {
	f := &Log4jColorFormatter{LoggerName: "DATALAYER"}
	out, err := f.Format(testEntry(logrus.Fields{"context": "Reporting", "entities": 2}))
	require.NoError(t, err)

	line := string(out)
	assert.True(t, strings.HasPrefix(line, "2025-01-02 15:04:05.000"))
	assert.Contains(t, line, "INFO")
	assert.Contains(t, line, "DATALAYER")
	assert.Contains(t, line, "changes saved")
	assert.Contains(t, line, "context=Reporting")
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestJSONFormatterLiftsKnownFields(t *testing.T) {
	f := &JSONLogFormatter{LoggerName: "DATALAYER"}
	out, err := f.Format(testEntry(logrus.Fields{
		"context":        "DefaultConnection",
		"entity":         "Customer",
		"correlation_id": "c-1",
		"error":          errors.New("boom"),
	}))
	require.NoError(t, err)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(out, &rec))
	assert.Equal(t, "info", rec["level"])
	assert.Equal(t, "DefaultConnection", rec["context"])
	assert.Equal(t, "Customer", rec["entity"])
	assert.Equal(t, "c-1", rec["correlation_id"])
	assert.Equal(t, map[string]any{"error": "boom"}, rec["fields"])
}

func TestNewLoggerIsRegisteredByName(t *testing.T) {
	a := NewLogger("utils-test")
	b := NewLogger("utils-test")
	assert.Same(t, a, b)
	assert.True(t, SetLoggerLevel("utils-test", "error"))
	assert.Equal(t, logrus.ErrorLevel, a.GetLevel())
	assert.False(t, SetLoggerLevel("never-created", "error"))
}
