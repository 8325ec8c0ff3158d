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

func TestCreateOrderRequest_Valid(t *testing.T) {
	v := New()

	req := CreateOrderRequest{
		CustomerID: 7,
		Items: []LineRequest{
			{ItemID: 1, Quantity: 2},
			{ItemID: 2, Quantity: 1},
		},
	}

	assert.NoError(t, v.Struct(req))
}

func TestCreateOrderRequest_EmptyItemsAllowed(t *testing.T) {
	v := New()
	assert.NoError(t, v.Struct(CreateOrderRequest{CustomerID: 1}))
}

func TestCreateOrderRequest_InvalidLine(t *testing.T) {
	v := New()

	req := CreateOrderRequest{
		CustomerID: 1,
		Items:      []LineRequest{{ItemID: 1, Quantity: 0}},
	}

	assert.Error(t, v.Struct(req))
}

func TestCreateOrderRequest_MissingCustomer(t *testing.T) {
	v := New()
	assert.Error(t, v.Struct(CreateOrderRequest{}))
}

func TestStruct_ConvertsToInvalidInput(t *testing.T) {
	type attrs struct {
		ID    int     `validate:"gt=0"`
		Name  string  `validate:"notblank"`
		Price float64 `validate:"gte=0"`
	}

	err := Struct(attrs{ID: 0, Name: "   ", Price: -1})
	require.Error(t, err)
	assert.True(t, IsInvalidInput(err))
	assert.Contains(t, err.Error(), "ID must be positive")
	assert.Contains(t, err.Error(), "Name cannot be empty")
	assert.Contains(t, err.Error(), "Price cannot be negative")

	var fieldErr *Error
	require.True(t, errors.As(err, &fieldErr))
	assert.Equal(t, "ID", fieldErr.Field)

	assert.NoError(t, Struct(attrs{ID: 1, Name: "Oxford", Price: 0}))
}

func TestErrorf(t *testing.T) {
	err := Errorf("Quantity", "%s must be positive", "Quantity")
	assert.ErrorIs(t, err, ErrInvalidInput)
	assert.EqualError(t, err, "Quantity must be positive")
}

func TestBindAndValidate_WritesBadRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{"customer_id":0}`))
	c.Request.Header.Set("Content-Type", "application/json")

	var req CreateOrderRequest
	err := BindAndValidate(c, &req, New())
	require.Error(t, err)
	assert.True(t, IsInvalidInput(err))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "validation_failed")
}

func TestBindAndValidate_MalformedJSON(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/orders", strings.NewReader(`{`))
	c.Request.Header.Set("Content-Type", "application/json")

	var req CreateOrderRequest
	require.Error(t, BindAndValidate(c, &req, New()))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_request_body")
}
