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

package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSchemaPolicy(t *testing.T) {
	cases := map[string]SchemaPolicy{
		"":            SchemaPolicyNone,
		"none":        SchemaPolicyNone,
		"create":      SchemaPolicyCreate,
		"CREATE-DROP": SchemaPolicyCreateDrop,
		"create_drop": SchemaPolicyCreateDrop,
		" validate ":  SchemaPolicyValidate,
	}
	for in, want := range cases {
		got, err := ParseSchemaPolicy(in)
		require.NoError(t, err, "input %q", in)
		assert.Equal(t, want, got, "input %q", in)
	}

	p, err := ParseSchemaPolicy("update")
	assert.Error(t, err)
	assert.False(t, p.IsValid())
	assert.Equal(t, IllegalName, p.Name())
	assert.Equal(t, IllegalValue, p.Number())
}

func TestSchemaPolicyEnum(t *testing.T) {
	assert.Equal(t, "create-drop", SchemaPolicyCreateDrop.String())
	assert.Equal(t, 3, SchemaPolicyValidate.Number())
	assert.NotEqual(t, IllegalDesc, SchemaPolicyCreate.Desc())
	assert.True(t, SchemaPolicyCreate.CreatesTables())
	assert.True(t, SchemaPolicyCreateDrop.CreatesTables())
	assert.False(t, SchemaPolicyValidate.CreatesTables())
}

func TestPageRequestNormalizes(t *testing.T) {
	p := NewPageRequest(-5, 0)
	assert.Equal(t, 0, p.GetOffset())
	assert.Equal(t, DefaultPageSize, p.GetLimit())
	assert.Empty(t, p.GetOrders())

	p = NewPageRequestFromPage(3, 20, "member_no ASC")
	assert.Equal(t, 40, p.GetOffset())
	assert.Equal(t, 20, p.GetLimit())
	assert.Equal(t, []string{"member_no ASC"}, p.GetOrders())
}

func TestPaginationHasMore(t *testing.T) {
	page := NewDefaultPagination[int](0, 2)
	one, two := 1, 2
	page.Items = []*int{&one, &two}
	page.Total = 3
	assert.True(t, page.HasMore())

	page.Total = 2
	assert.False(t, page.HasMore())
}
