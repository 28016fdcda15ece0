package parser

import (
	"emperror.dev/errors"
	. "github.com/franela/goblin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vsdock/vintagestory-server/config"
	"os"
	"path/filepath"
	"testing"
)

const templateFile = "../server-config.yaml"

func decode(t *testing.T, b []byte) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(b, &m))
	return m
}

func resolve(t *testing.T, environ map[string]string) (*Document, error) {
	t.Helper()
	tpl, err := LoadTemplate(templateFile)
	require.NoError(t, err)
	return tpl.Resolve(NewOverrideSet(environ))
}

func rendered(t *testing.T, environ map[string]string) map[string]interface{} {
	t.Helper()
	d, err := resolve(t, environ)
	require.NoError(t, err)
	b, err := d.Bytes()
	require.NoError(t, err)
	return decode(t, b)
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestLoadTemplate(t *testing.T) {
	g := Goblin(t)

	g.Describe("LoadTemplate", func() {
		g.It("loads the shipped template", func() {
			tpl, err := LoadTemplate(templateFile)

			g.Assert(err).IsNil()
			g.Assert(tpl.Path()).Equal(templateFile)
			g.Assert(tpl.data["ServerName"]).Equal("Vintage Story Server")
			g.Assert(tpl.data["MaxClients"]).Equal(16)
		})

		g.It("returns an error when the file does not exist", func() {
			_, err := LoadTemplate(filepath.Join(t.TempDir(), "missing.yaml"))

			g.Assert(err == nil).IsFalse()
			g.Assert(errors.Is(err, os.ErrNotExist)).IsTrue()
		})

		g.It("returns an error for malformed yaml", func() {
			p := writeFile(t, t.TempDir(), "bad.yaml", "ServerName: [unterminated\n")
			_, err := LoadTemplate(p)

			g.Assert(err == nil).IsFalse()
		})

		g.It("rejects an empty template", func() {
			p := writeFile(t, t.TempDir(), "empty.yaml", "# nothing here\n")
			_, err := LoadTemplate(p)

			g.Assert(errors.Is(err, ErrTemplateEmpty)).IsTrue()
		})

		g.It("rejects a template that is not a mapping", func() {
			p := writeFile(t, t.TempDir(), "list.yaml", "- a\n- b\n")
			_, err := LoadTemplate(p)

			g.Assert(errors.Is(err, ErrTemplateNotMapping)).IsTrue()
		})
	})
}

func TestResolveOverridePrecedence(t *testing.T) {
	defaults := rendered(t, nil)
	m := rendered(t, map[string]string{
		"VS_CFG_MAX_CLIENTS": "32",
		"VS_CFG_ALLOW_PVP":   "false",
	})

	assert.EqualValues(t, 32, m["MaxClients"])
	assert.Equal(t, false, m["AllowPvP"])

	delete(m, "MaxClients")
	delete(m, "AllowPvP")
	delete(defaults, "MaxClients")
	delete(defaults, "AllowPvP")
	assert.Equal(t, defaults, m)
}

func TestResolveEveryField(t *testing.T) {
	m := rendered(t, map[string]string{
		"VS_CFG_SERVER_NAME":             "My Server",
		"VS_CFG_SERVER_URL":              "https://example.com",
		"VS_CFG_SERVER_DESCRIPTION":      "<b>welcome</b>",
		"VS_CFG_WELCOME_MESSAGE":         "Hi {0}",
		"VS_CFG_ALLOW_CREATIVE_MODE":     "False",
		"VS_CFG_SERVER_IP":               "10.0.0.2",
		"VS_CFG_SERVER_PORT":             " 42421 ",
		"VS_CFG_SERVER_UPNP":             "TRUE",
		"VS_CFG_SERVER_COMPRESS_PACKETS": "false",
		"VS_CFG_ADVERTISE_SERVER":        "true",
		"VS_CFG_MAX_CLIENTS":             "8",
		"VS_CFG_PASS_TIME_WHEN_EMPTY":    "true",
		"VS_CFG_SERVER_PASSWORD":         "hunter2",
		"VS_CFG_MAX_CHUNK_RADIUS":        "6",
		"VS_CFG_SERVER_LANGUAGE":         "de",
		"VS_CFG_ONLY_WHITELISTED":        "true",
		"VS_CFG_ANTIABUSE":               "2",
		"VS_CFG_ALLOW_PVP":               "false",
		"VS_CFG_HOSTED_MODE":             "true",
		"VS_CFG_HOSTED_MODE_ALLOW_MODS":  "true",
	})

	assert.Equal(t, "My Server", m["ServerName"])
	assert.Equal(t, "https://example.com", m["ServerUrl"])
	assert.Equal(t, "<b>welcome</b>", m["ServerDescription"])
	assert.Equal(t, "Hi {0}", m["WelcomeMessage"])
	assert.Equal(t, false, m["WorldConfig"].(map[string]interface{})["AllowCreativeMode"])
	assert.Equal(t, "10.0.0.2", m["Ip"])
	assert.EqualValues(t, 42421, m["Port"])
	assert.Equal(t, true, m["Upnp"])
	assert.Equal(t, false, m["CompressPackets"])
	assert.Equal(t, true, m["AdvertiseServer"])
	assert.EqualValues(t, 8, m["MaxClients"])
	assert.Equal(t, true, m["PassTimeWhenEmpty"])
	assert.Equal(t, "hunter2", m["Password"])
	assert.EqualValues(t, 6, m["MaxChunkRadius"])
	assert.Equal(t, "de", m["ServerLanguage"])
	assert.Equal(t, true, m["OnlyWhitelisted"])
	assert.EqualValues(t, 2, m["AntiAbuse"])
	assert.Equal(t, false, m["AllowPvP"])
	assert.Equal(t, true, m["HostedMode"])
	assert.Equal(t, true, m["HostedModeAllowMods"])
}

func TestResolveKeepsNestedDefaults(t *testing.T) {
	m := rendered(t, map[string]string{"VS_CFG_ALLOW_CREATIVE_MODE": "false"})

	wc := m["WorldConfig"].(map[string]interface{})
	assert.Equal(t, false, wc["AllowCreativeMode"])
	assert.Equal(t, "surviveandbuild", wc["PlayStyle"])
	assert.Equal(t, "A new world", wc["WorldName"])
}

func TestResolveUnrecognizedOverridesAreIgnored(t *testing.T) {
	defaults := rendered(t, nil)
	m := rendered(t, map[string]string{
		"VS_CFG_NOT_A_SETTING": "1",
		"VS_CFG_MAXCLIENTS":    "99",
		"MAX_CLIENTS":          "99",
		"ServerName":           "nope",
	})

	assert.Equal(t, defaults, m)
}

func TestResolveBooleanValues(t *testing.T) {
	for _, v := range []string{"", "yes", "1", "no", "0", "on"} {
		m := rendered(t, map[string]string{"VS_CFG_ALLOW_PVP": v})
		assert.Equal(t, true, m["AllowPvP"], "value %q must be treated as absent", v)
	}

	m := rendered(t, map[string]string{"VS_CFG_ALLOW_PVP": "FaLsE"})
	assert.Equal(t, false, m["AllowPvP"])
}

func TestResolveNullableStrings(t *testing.T) {
	m := rendered(t, map[string]string{
		"VS_CFG_SERVER_IP":          "",
		"VS_CFG_SERVER_PASSWORD":    "",
		"VS_CFG_SERVER_NAME":        "",
		"VS_CFG_SERVER_URL":         "",
		"VS_CFG_SERVER_DESCRIPTION": "",
	})

	for _, k := range []string{"Ip", "Password"} {
		v, ok := m[k]
		assert.True(t, ok, k)
		assert.Nil(t, v, k)
	}
	for _, k := range []string{"ServerName", "ServerUrl", "ServerDescription"} {
		assert.Equal(t, "", m[k], k)
	}
}

func TestRenderEmptyDescriptionAsString(t *testing.T) {
	d, err := resolve(t, map[string]string{"VS_CFG_SERVER_DESCRIPTION": ""})
	require.NoError(t, err)
	b, err := d.Bytes()
	require.NoError(t, err)

	assert.Contains(t, string(b), `"ServerDescription": ""`)
	assert.NotContains(t, string(b), `"ServerDescription": null`)
}

func TestResolveCoercionFailure(t *testing.T) {
	_, err := resolve(t, map[string]string{"VS_CFG_MAX_CLIENTS": "lots"})
	require.Error(t, err)

	var ce *CoercionError
	require.True(t, errors.As(err, &ce))
	assert.Equal(t, "VS_CFG_MAX_CLIENTS", ce.Field.Env)
	assert.Equal(t, "lots", ce.Value)
	assert.Contains(t, err.Error(), "expected integer value")
}

func TestResolveEmptyNumericIsAbsent(t *testing.T) {
	m := rendered(t, map[string]string{"VS_CFG_SERVER_PORT": "  "})

	assert.EqualValues(t, 42420, m["Port"])
}

func TestResolveDoesNotModifyTemplate(t *testing.T) {
	tpl, err := LoadTemplate(templateFile)
	require.NoError(t, err)

	_, err = tpl.Resolve(OverrideSet{"VS_CFG_SERVER_NAME": "changed"})
	require.NoError(t, err)

	d, err := tpl.Resolve(OverrideSet{})
	require.NoError(t, err)
	v, _ := d.Get("ServerName")
	assert.Equal(t, "Vintage Story Server", v)
}

func TestResolveRecordsAppliedOverrides(t *testing.T) {
	d, err := resolve(t, map[string]string{
		"VS_CFG_ALLOW_PVP":   "maybe",
		"VS_CFG_MAX_CLIENTS": "4",
		"VS_CFG_SERVER_NAME": "x",
	})
	require.NoError(t, err)

	var paths []string
	for _, a := range d.Applied() {
		paths = append(paths, a.Field.Path)
	}
	assert.Equal(t, []string{"ServerName", "MaxClients"}, paths)
}

func TestRender(t *testing.T) {
	g := Goblin(t)

	g.Describe("Document#Render", func() {
		var dir string
		var d *Document

		g.BeforeEach(func() {
			dir = t.TempDir()
			var err error
			d, err = resolve(t, map[string]string{"VS_CFG_SERVER_NAME": "Render Test"})
			g.Assert(err).IsNil()
		})

		g.It("writes the document and creates missing directories", func() {
			p := filepath.Join(dir, "nested", "serverconfig.json")

			g.Assert(d.Render(p)).IsNil()

			b, err := os.ReadFile(p)
			g.Assert(err).IsNil()
			g.Assert(decode(t, b)["ServerName"]).Equal("Render Test")
			g.Assert(b[len(b)-1]).Equal(byte('\n'))
		})

		g.It("does not escape html characters", func() {
			d, err := resolve(t, map[string]string{"VS_CFG_WELCOME_MESSAGE": "<hello> & welcome"})
			g.Assert(err).IsNil()
			b, err := d.Bytes()
			g.Assert(err).IsNil()
			g.Assert(string(b)).IsNotZero()
			assert.Contains(t, string(b), `"<hello> & welcome"`)
		})

		g.It("backs up an existing file before replacing it", func() {
			p := writeFile(t, dir, "serverconfig.json", `{"ServerName":"old"}`)

			g.Assert(d.Render(p)).IsNil()

			b, err := os.ReadFile(p + ".backup")
			g.Assert(err).IsNil()
			g.Assert(string(b)).Equal(`{"ServerName":"old"}`)
		})

		g.It("leaves nothing behind when the destination cannot be written", func() {
			// The destination is a directory, so the final rename must fail.
			p := filepath.Join(dir, "serverconfig.json")
			g.Assert(os.MkdirAll(filepath.Join(p, "child"), 0o755)).IsNil()

			g.Assert(d.Render(p) == nil).IsFalse()

			entries, err := os.ReadDir(dir)
			g.Assert(err).IsNil()
			g.Assert(len(entries)).Equal(1)
		})
	})
}

func TestGenerate(t *testing.T) {
	newConfig := func(t *testing.T, environ map[string]string) *config.Configuration {
		home := t.TempDir()
		data := t.TempDir()
		b, err := os.ReadFile(templateFile)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(home, config.TemplateFile), b, 0o644))

		environ["HOMEPATH"] = home
		environ["DATAPATH"] = data
		c, err := config.FromMap(environ)
		require.NoError(t, err)
		return c
	}

	t.Run("renders the scenario configuration", func(t *testing.T) {
		c := newConfig(t, map[string]string{"VS_CFG_MAX_CLIENTS": "32", "VS_CFG_ALLOW_PVP": "false"})

		_, err := Generate(c, c.ConfigPath())
		require.NoError(t, err)

		b, err := os.ReadFile(c.ConfigPath())
		require.NoError(t, err)
		m := decode(t, b)
		assert.EqualValues(t, 32, m["MaxClients"])
		assert.Equal(t, false, m["AllowPvP"])
		assert.EqualValues(t, 42420, m["Port"])
	})

	t.Run("writes nothing when an override is invalid", func(t *testing.T) {
		c := newConfig(t, map[string]string{"VS_CFG_SERVER_PORT": "forty-two"})

		_, err := Generate(c, c.ConfigPath())
		require.Error(t, err)

		_, err = os.Stat(c.ConfigPath())
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})

	t.Run("writes nothing when the template is missing", func(t *testing.T) {
		c := newConfig(t, map[string]string{})
		require.NoError(t, os.Remove(filepath.Join(c.HomePath, config.TemplateFile)))

		_, err := Generate(c, c.ConfigPath())
		require.Error(t, err)

		_, err = os.Stat(c.ConfigPath())
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})

	t.Run("prefers a template in the data directory", func(t *testing.T) {
		c := newConfig(t, map[string]string{})
		writeFile(t, c.DataPath, config.TemplateFile, "ServerName: From Data\nPort: 1\n")

		d, err := Generate(c, c.ConfigPath())
		require.NoError(t, err)
		v, _ := d.Get("ServerName")
		assert.Equal(t, "From Data", v)
	})
}
