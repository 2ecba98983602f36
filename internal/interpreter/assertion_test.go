package interpreter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/flowreplay/api/schemas"
	"github.com/xkilldash9x/flowreplay/internal/browser"
	"github.com/xkilldash9x/flowreplay/internal/browser/browsertest"
)

func TestEvaluate(t *testing.T) {
	ctx := context.Background()
	target := func(e *el) browser.Locator {
		return browsertest.NewPage(e).Locate(browser.Title("subject", false)).Nth(0)
	}

	tests := []struct {
		name     string
		element  *el
		typ      schemas.AssertionType
		expected string
		pass     bool
	}{
		{"contains substring", &el{Title: "subject", Text: "Order Shipped today"}, schemas.AssertToContainText, "Shipped", true},
		{"contains normalizes whitespace", &el{Title: "subject", Text: "Order\n   Shipped"}, schemas.AssertToContainText, "Order Shipped", true},
		{"contains regex", &el{Title: "subject", Text: "Order 123 booked"}, schemas.AssertToContainText, `/Order \d+/`, true},
		{"contains missing", &el{Title: "subject", Text: "Pending"}, schemas.AssertToContainText, "Shipped", false},
		{"have text trims", &el{Title: "subject", Text: "  Shipped \n"}, schemas.AssertToHaveText, "Shipped", true},
		{"have text is not substring", &el{Title: "subject", Text: "Not Shipped Yet"}, schemas.AssertToHaveText, "Shipped", false},
		{"have value", &el{Title: "subject", Value: "42"}, schemas.AssertToHaveValue, "42", true},
		{"have value mismatch", &el{Title: "subject", Value: "41"}, schemas.AssertToHaveValue, "42", false},
		{"visible", &el{Title: "subject"}, schemas.AssertToBeVisible, "", true},
		{"hidden", &el{Title: "subject", Hidden: true}, schemas.AssertToBeVisible, "", false},
		{"includes", &el{Title: "subject", Text: "Total: 100 USD"}, schemas.AssertIncludes, "100", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewEvaluator(0, 0).Evaluate(ctx, target(tt.element), tt.typ, tt.expected)
			if tt.pass {
				assert.NoError(t, err)
				return
			}
			var ae *AssertionError
			require.ErrorAs(t, err, &ae)
			assert.Equal(t, tt.typ, ae.Type)
			assert.Equal(t, tt.expected, ae.Expected)
		})
	}

	t.Run("includes failure message", func(t *testing.T) {
		err := NewEvaluator(0, 0).Evaluate(ctx, target(&el{Title: "subject", Text: "Total: 90 USD"}), schemas.AssertIncludes, "100")
		require.Error(t, err)
		assert.Equal(t, "Assertion failed: 'Total: 90 USD' does not include '100'", err.Error())
	})

	t.Run("includes on a missing element is not an assertion failure", func(t *testing.T) {
		err := NewEvaluator(0, 0).Evaluate(ctx, browsertest.NewPage().Locate(browser.Text("nothing", false)), schemas.AssertIncludes, "x")
		require.Error(t, err)
		var ae *AssertionError
		assert.False(t, errors.As(err, &ae))
		assert.ErrorIs(t, err, browser.ErrNotFound)
	})

	t.Run("retries until the element appears", func(t *testing.T) {
		e := &el{Title: "subject", Text: "Shipped", VisibleAfter: 3}
		err := NewEvaluator(50*time.Millisecond, time.Millisecond).Evaluate(ctx, target(e), schemas.AssertToBeVisible, "")
		assert.NoError(t, err)
	})

	t.Run("missing element reports last observed value", func(t *testing.T) {
		err := NewEvaluator(3*time.Millisecond, time.Millisecond).Evaluate(ctx, browsertest.NewPage().Locate(browser.Text("gone", false)), schemas.AssertToHaveText, "Shipped")
		var ae *AssertionError
		require.ErrorAs(t, err, &ae)
		assert.Empty(t, ae.Actual)
	})

	t.Run("unsupported", func(t *testing.T) {
		err := NewEvaluator(0, 0).Evaluate(ctx, target(&el{Title: "subject"}), "toBeEnabled", "")
		var unsupported *UnsupportedAssertionError
		require.ErrorAs(t, err, &unsupported)
		assert.Equal(t, schemas.AssertionType("toBeEnabled"), unsupported.Type)
	})
}
