package cmd

import (
	"fmt"
	"github.com/acobaugh/osrelease"
	"github.com/apex/log"
	"github.com/buger/jsonparser"
	"github.com/spf13/cobra"
	"github.com/vsdock/vintagestory-server/config"
	"github.com/vsdock/vintagestory-server/loggers/cli"
	"github.com/vsdock/vintagestory-server/parser"
	"github.com/vsdock/vintagestory-server/server"
	"github.com/vsdock/vintagestory-server/system"
	"io"
	"os"
	"runtime"
	"time"
)

func newDiagnosticsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "diagnostics",
		Short: "Report information about this container to assist in debugging.",
		PreRun: func(cmd *cobra.Command, args []string) {
			log.SetHandler(cli.Default)
		},
		Run: func(cmd *cobra.Command, args []string) {
			c := readConfiguration()
			writeDiagnostics(cmd.OutOrStdout(), c)
		},
	}
}

// writeDiagnostics writes a report of how the entrypoint would start the
// server with the current environment. Nothing on the disk is modified.
func writeDiagnostics(w io.Writer, c *config.Configuration) {
	fmt.Fprintln(w, "Vintage Story Server Container - Diagnostics Report")

	printHeader(w, "Versions")
	fmt.Fprintln(w, "          Entrypoint:", system.Version)
	fmt.Fprintln(w, "                  Go:", runtime.Version())
	if r, err := osrelease.Read(); err == nil {
		fmt.Fprintln(w, "                  OS:", system.FirstNotEmpty(r["PRETTY_NAME"], r["NAME"], "unknown"))
	} else {
		fmt.Fprintln(w, "                  OS: unknown")
	}

	printHeader(w, "Configuration")
	fmt.Fprintln(w, "      Home Directory:", c.HomePath)
	fmt.Fprintln(w, "    Server Directory:", c.ServerPath)
	fmt.Fprintln(w, "      Data Directory:", c.DataPath)
	fmt.Fprintln(w, "       Server Binary:", c.BinaryPath)
	fmt.Fprintln(w, "")
	fmt.Fprintf(w, "            Username: %s (%d:%d)\n", c.Username, c.User.Uid, c.User.Gid)
	fmt.Fprintf(w, "      Entrypoint UID: %d\n", os.Geteuid())
	fmt.Fprintln(w, "        Stop Timeout:", c.StopTimeout)
	fmt.Fprintln(w, "   Force Regenerate:", c.ForceRegenerate)
	fmt.Fprintln(w, "         Server Time:", time.Now().Format(time.RFC1123Z))

	printHeader(w, "Server Configuration")
	fmt.Fprintln(w, "   Settings Template:", fileState(c.TemplatePath()))
	fmt.Fprintln(w, "  Configuration File:", fileState(c.ConfigPath()))
	if b, err := os.ReadFile(c.ConfigPath()); err == nil {
		if v, err := jsonparser.GetString(b, "ServerName"); err == nil {
			fmt.Fprintln(w, "         Server Name:", v)
		}
		if v, err := jsonparser.GetInt(b, "Port"); err == nil {
			fmt.Fprintln(w, "                Port:", v)
		}
	}

	printHeader(w, "Overrides")
	set := parser.NewOverrideSet(c.Environ())
	if len(set) == 0 {
		fmt.Fprintln(w, "No VS_CFG_* variables are set.")
	}
	for _, f := range set.Recognized() {
		raw := set[f.Env]
		v, ok, err := f.Coerce(raw)
		switch {
		case err != nil:
			fmt.Fprintf(w, "%30s: invalid %s value\n", f.Env, f.Kind)
		case !ok:
			fmt.Fprintf(w, "%30s: ignored\n", f.Env)
		default:
			fmt.Fprintf(w, "%30s: %s = %v\n", f.Env, f.Path, f.Display(v))
		}
	}
	for _, k := range set.Unrecognized() {
		fmt.Fprintf(w, "%30s: unknown\n", k)
	}

	printHeader(w, "Log Files")
	for _, ls := range server.LogStreams {
		state := "not followed"
		if ls.Followed(c.Logging) {
			state = "followed"
		}
		fmt.Fprintf(w, "%20s: %s (%s)\n", ls.Filename(), fileState(ls.Path(c)), state)
	}
}

func fileState(p string) string {
	st, err := os.Stat(p)
	if err != nil {
		return p + " [missing]"
	}
	return fmt.Sprintf("%s [%s]", p, system.FormatBytes(st.Size()))
}

func printHeader(w io.Writer, title string) {
	fmt.Fprintln(w, "\n|\n|", title)
	fmt.Fprintln(w, "| ------------------------------")
}
