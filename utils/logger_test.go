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
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	cases := map[string]logrus.Level{
		"trace":   logrus.TraceLevel,
		"DEBUG":   logrus.DebugLevel,
		"":        logrus.InfoLevel,
		" warn ":  logrus.WarnLevel,
		"warning": logrus.WarnLevel,
		"error":   logrus.ErrorLevel,
		"bogus":   logrus.InfoLevel,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLogLevel(in), "input %q", in)
	}
}

func TestSetLoggerLevel(t *testing.T) {
	l := NewLogger("UTILS_TEST")
	assert.True(t, SetLoggerLevel("UTILS_TEST", "error"))
	assert.Equal(t, logrus.ErrorLevel, l.GetLevel())
	assert.False(t, SetLoggerLevel("NO_SUCH_LOGGER", "debug"))
}

func TestLog4jColorFormatter(t *testing.T) {
	f := &Log4jColorFormatter{LoggerName: "DATABASE", NameWidth: 10, DisableColors: true}
	entry := &logrus.Entry{
		Time:    time.Date(2025, 3, 15, 14, 27, 0, 0, time.UTC),
		Level:   logrus.InfoLevel,
		Message: "committed",
		Data:    logrus.Fields{"table": "member_tb", "inserted": 1},
	}
	b, err := f.Format(entry)
	require.NoError(t, err)
	line := string(b)
	assert.Contains(t, line, "2025-03-15 14:27:00.000")
	assert.Contains(t, line, "   INFO")
	assert.Contains(t, line, "  DATABASE")
	assert.Contains(t, line, ": committed inserted=1 table=member_tb\n")
}

func TestJSONLogFormatter(t *testing.T) {
	f := &JSONLogFormatter{LoggerName: "DATABASE"}
	b, err := f.Format(&logrus.Entry{
		Time:    time.Now(),
		Level:   logrus.WarnLevel,
		Message: "rolled back",
		Data:    logrus.Fields{"error": assert.AnError},
	})
	require.NoError(t, err)

	var rec map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(b), &rec))
	assert.Equal(t, "warning", rec["level"])
	assert.Equal(t, "DATABASE", rec["model"])
	assert.Equal(t, "rolled back", rec["message"])
	assert.Equal(t, assert.AnError.Error(), rec["fields"].(map[string]interface{})["error"])
}

func TestEnvDefaults(t *testing.T) {
	t.Setenv("UTILS_TEST_BOOL", "true")
	t.Setenv("UTILS_TEST_DURATION", "15")
	t.Setenv("UTILS_TEST_DURATION2", "250ms")

	assert.True(t, EnvDefaultBool("UTILS_TEST_BOOL", false))
	assert.True(t, EnvDefaultBool("UTILS_TEST_MISSING", true))
	assert.Equal(t, "x", EnvDefaultString("UTILS_TEST_MISSING", "x"))
	assert.Equal(t, 15*time.Second, EnvDefaultDuration("UTILS_TEST_DURATION", 0))
	assert.Equal(t, 250*time.Millisecond, EnvDefaultDuration("UTILS_TEST_DURATION2", 0))
	assert.Equal(t, time.Minute, EnvDefaultDuration("UTILS_TEST_MISSING", time.Minute))
}

func TestConfigureOutput(t *testing.T) {
	var buf bytes.Buffer
	ConfigureOutput(&buf)
	defer ConfigureOutput(nil)

	NewLogger("OUTPUT").Warn("redirected")
	assert.Contains(t, buf.String(), "redirected")
}
