package validation

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestIsValidReference(t *testing.T) {
	tests := []struct {
		ref   string
		valid bool
	}{
		{"shopper_1", true},
		{"user-42@example.com", true},
		{"a", true},
		{strings.Repeat("x", MaxReferenceLength), true},

		// Invalid cases
		{"", false},
		{"has space", false},
		{"tab\there", false},
		{strings.Repeat("x", MaxReferenceLength+1), false},
	}

	for _, tc := range tests {
		if got := IsValidReference(tc.ref); got != tc.valid {
			t.Errorf("IsValidReference(%q) = %v, want %v", tc.ref, got, tc.valid)
		}
	}
}

func TestIsValidHex(t *testing.T) {
	assert.True(t, IsValidHex("44782DEF547AAA06"))
	assert.False(t, IsValidHex("0x44"))
	assert.False(t, IsValidHex(""))
}

func TestNormalizeReference(t *testing.T) {
	assert.Equal(t, "shopper_1", NormalizeReference("  shopper_1\t"))
	assert.Equal(t, "", NormalizeReference(" \n "))
	assert.True(t, IsValidReference(NormalizeReference(" shopper_1 ")))
}

type inner struct {
	Type string `json:"type" validate:"required"`
}

type outer struct {
	ShopperReference string `json:"shopperReference" validate:"required,reference"`
	Method           inner  `json:"paymentMethod"`
	Channel          string `json:"channel" validate:"omitempty,oneof=Web iOS Android"`
}

func TestStruct(t *testing.T) {
	require.NoError(t, Struct(outer{ShopperReference: "shopper_1", Method: inner{Type: "scheme"}}))

	err := Struct(outer{ShopperReference: "bad ref", Channel: "Fax"})
	require.Error(t, err)

	var verrs ValidationErrors
	require.True(t, errors.As(err, &verrs))

	fields := map[string]string{}
	for _, v := range verrs {
		fields[v.Field] = v.Message
	}
	assert.Equal(t, "must be 1-256 printable characters without spaces", fields["shopperReference"])
	assert.Equal(t, "is required", fields["paymentMethod.type"])
	assert.Equal(t, "must be one of: Web iOS Android", fields["channel"])
}

func TestValidationErrors_EmptyMessage(t *testing.T) {
	assert.Equal(t, "validation failed", ValidationErrors{}.Error())
}

func TestRequestSizeMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(RequestSizeMiddleware(16))
	r.POST("/echo", func(c *gin.Context) {
		if _, err := c.GetRawData(); err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader("small")))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/echo", strings.NewReader(strings.Repeat("x", 64))))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
