package pwdriver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/flowreplay/internal/browser"
	"github.com/xkilldash9x/flowreplay/internal/config"
)

func TestTextArg(t *testing.T) {
	t.Run("plain text keeps exact", func(t *testing.T) {
		v, exact, err := textArg("Sign In", true)
		require.NoError(t, err)
		assert.Equal(t, "Sign In", v)
		require.NotNil(t, exact)
		assert.True(t, *exact)
	})

	t.Run("regex literal", func(t *testing.T) {
		v, exact, err := textArg(`/Sales order \d+/i`, true)
		require.NoError(t, err)
		assert.Nil(t, exact)
		re, ok := v.(interface{ MatchString(string) bool })
		require.True(t, ok)
		assert.True(t, re.MatchString("SALES ORDER 12"))
	})

	t.Run("bad regex", func(t *testing.T) {
		_, _, err := textArg(`/(/`, false)
		assert.Error(t, err)
	})
}

func TestCSSOrXPath(t *testing.T) {
	assert.Equal(t, "xpath=//div[@id='a']", cssOrXPath(browser.CSS("//div[@id='a']")))
	assert.Equal(t, "xpath=(//a)[2]", cssOrXPath(browser.CSS("(//a)[2]")))
	assert.Equal(t, "#navmenu-container", cssOrXPath(browser.CSS("#navmenu-container")))
}

func TestLaunchOptions(t *testing.T) {
	d := New(config.BrowserConfig{Headless: true, Args: []string{"--lang=en-US"}}, zaptest.NewLogger(t))
	opts := d.launchOptions()
	require.NotNil(t, opts.Headless)
	assert.True(t, *opts.Headless)
	assert.Contains(t, opts.Args, "--no-sandbox")
	assert.Equal(t, "--lang=en-US", opts.Args[len(opts.Args)-1])
	assert.Equal(t, float64(60000), *opts.Timeout)
}

func TestLocatorCarriesSelectorErrors(t *testing.T) {
	l := (&Locator{err: assert.AnError, desc: "text=/(/"}).Nth(0).Filter("a", "")
	assert.Equal(t, `text=/(/ >> nth=0 >> filter(hasText="a", hasNot="")`, l.String())
	_, err := l.Count(t.Context())
	assert.ErrorIs(t, err, assert.AnError)
}

func TestCloseBeforeStart(t *testing.T) {
	d := New(config.BrowserConfig{}, zaptest.NewLogger(t))
	assert.NoError(t, d.Close(t.Context()))
}
