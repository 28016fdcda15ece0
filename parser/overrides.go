package parser

import (
	"github.com/vsdock/vintagestory-server/config"
	"sort"
	"strings"
)

// Fields is the complete set of settings that can be overridden through the
// environment. Overrides are applied in this order.
var Fields = []Field{
	{Env: "VS_CFG_SERVER_NAME", Path: "ServerName", Kind: KindString},
	{Env: "VS_CFG_SERVER_URL", Path: "ServerUrl", Kind: KindString},
	{Env: "VS_CFG_SERVER_DESCRIPTION", Path: "ServerDescription", Kind: KindString},
	{Env: "VS_CFG_WELCOME_MESSAGE", Path: "WelcomeMessage", Kind: KindString},
	{Env: "VS_CFG_ALLOW_CREATIVE_MODE", Path: "WorldConfig.AllowCreativeMode", Kind: KindBool},
	{Env: "VS_CFG_SERVER_IP", Path: "Ip", Kind: KindString, Nullable: true},
	{Env: "VS_CFG_SERVER_PORT", Path: "Port", Kind: KindInt},
	{Env: "VS_CFG_SERVER_UPNP", Path: "Upnp", Kind: KindBool},
	{Env: "VS_CFG_SERVER_COMPRESS_PACKETS", Path: "CompressPackets", Kind: KindBool},
	{Env: "VS_CFG_ADVERTISE_SERVER", Path: "AdvertiseServer", Kind: KindBool},
	{Env: "VS_CFG_MAX_CLIENTS", Path: "MaxClients", Kind: KindInt},
	{Env: "VS_CFG_PASS_TIME_WHEN_EMPTY", Path: "PassTimeWhenEmpty", Kind: KindBool},
	{Env: "VS_CFG_SERVER_PASSWORD", Path: "Password", Kind: KindString, Nullable: true, Secret: true},
	{Env: "VS_CFG_MAX_CHUNK_RADIUS", Path: "MaxChunkRadius", Kind: KindInt},
	{Env: "VS_CFG_SERVER_LANGUAGE", Path: "ServerLanguage", Kind: KindString},
	{Env: "VS_CFG_ONLY_WHITELISTED", Path: "OnlyWhitelisted", Kind: KindBool},
	{Env: "VS_CFG_ANTIABUSE", Path: "AntiAbuse", Kind: KindInt},
	{Env: "VS_CFG_ALLOW_PVP", Path: "AllowPvP", Kind: KindBool},
	{Env: "VS_CFG_HOSTED_MODE", Path: "HostedMode", Kind: KindBool},
	{Env: "VS_CFG_HOSTED_MODE_ALLOW_MODS", Path: "HostedModeAllowMods", Kind: KindBool},
}

// LookupField returns the field overridden by the given environment variable.
func LookupField(env string) (Field, bool) {
	for _, f := range Fields {
		if f.Env == env {
			return f, true
		}
	}
	return Field{}, false
}

// OverrideSet holds the raw value of every environment variable that uses the
// override prefix. Recognition against Fields happens when it is applied.
type OverrideSet map[string]string

// NewOverrideSet filters an environment snapshot down to the variables that
// use the override prefix.
func NewOverrideSet(environ map[string]string) OverrideSet {
	set := make(OverrideSet)
	for k, v := range environ {
		if strings.HasPrefix(k, config.OverridePrefix) {
			set[k] = v
		}
	}
	return set
}

// Recognized returns the fields that have a value in this set, in the order
// they are applied.
func (s OverrideSet) Recognized() []Field {
	var out []Field
	for _, f := range Fields {
		if _, ok := s[f.Env]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Unrecognized returns the sorted names in this set that do not match any
// known field.
func (s OverrideSet) Unrecognized() []string {
	var out []string
	for k := range s {
		if _, ok := LookupField(k); !ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}
