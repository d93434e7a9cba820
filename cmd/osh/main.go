package main

import (
	"io"
	"os"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"git.sr.ht/~mango/osh/errors"
	"git.sr.ht/~mango/osh/log"
	"git.sr.ht/~mango/osh/process"
	"git.sr.ht/~mango/osh/state"
	"git.sr.ht/~mango/osh/vm"
)

const usage = `Usage: osh [flags...] [script [args...]]
       osh [flags...] -c command [name [args...]]

Runs the commands of script, of command, or of the standard input.  When the
standard input is a terminal and neither is given, osh is interactive and
reads ~/.oshrc first.

Options:
`

var (
	command    string
	errExit    bool
	noUnset    bool
	xtrace     bool
	noExec     bool
	forceInter bool
	setOpts    []string
	shopts     []string
	rcFile     string
	noRc       bool
	configFile string
	envFiles   []string
	noColor    bool
)

func init() {
	pflag.Usage = func() {
		log.Stderr.Write([]byte(usage))
		pflag.PrintDefaults()
	}
	pflag.CommandLine.SetInterspersed(false)
	pflag.StringVarP(&command, "command", "c", "", "run the given command string")
	pflag.BoolVarP(&errExit, "errexit", "e", false, "exit when a command fails")
	pflag.BoolVarP(&noUnset, "nounset", "u", false, "fail on expansions of unset variables")
	pflag.BoolVarP(&xtrace, "xtrace", "x", false, "print commands as they run")
	pflag.BoolVarP(&noExec, "noexec", "n", false, "parse commands without running them")
	pflag.BoolVarP(&forceInter, "interactive", "i", false, "run interactively")
	pflag.StringArrayVarP(&setOpts, "option", "o", nil, "turn on the named option, as ‘set -o’ does")
	pflag.StringArrayVarP(&shopts, "shopt", "O", nil, "turn on the named option, as ‘shopt -s’ does")
	pflag.StringVar(&rcFile, "rcfile", "~/.oshrc", "file to source when interactive")
	pflag.BoolVar(&noRc, "norc", false, "don’t source the rc file")
	pflag.StringVar(&configFile, "config", "", "configuration file (default $XDG_CONFIG_HOME/osh/config.yaml)")
	pflag.StringArrayVar(&envFiles, "env-file", nil, "dotenv file to load into the environment")
	pflag.BoolVar(&noColor, "no-color", false, "don’t color diagnostics")
}

func main() {
	pflag.Parse()
	os.Exit(run(pflag.Args()))
}

func run(args []string) int {
	// Failures before the shell runs are fatal
	log.CrashOnError = true

	path, explicit := configFile, configFile != ""
	if !explicit {
		path = defaultConfigPath()
	}
	cfg, err := loadConfig(path, explicit)
	if err != nil {
		log.Err("%s", err)
		return errors.CodeUsage
	}
	env, err := environ(cfg, envFiles)
	if err != nil {
		log.Err("%s", err)
		return errors.CodeUsage
	}

	// Work out $0 and the positional parameters
	var name, script string
	haveCmd := pflag.CommandLine.Changed("command")
	switch {
	case haveCmd && len(args) > 0:
		name, args = args[0], args[1:]
	case haveCmd:
		name = os.Args[0]
	case len(args) > 0:
		script, name, args = args[0], args[0], args[1:]
	default:
		name = os.Args[0]
	}

	interactive := forceInter ||
		(!haveCmd && script == "" && term.IsTerminal(int(os.Stdin.Fd())))

	var jc *process.JobControl
	if interactive {
		if jc, err = process.InitJobControl(); err != nil {
			log.Warn("No job control: %s", err)
		}
	}

	v, err := vm.New(vm.Config{
		Name:        name,
		Args:        args,
		Environ:     env,
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		Interactive: interactive,
		JobControl:  jc,
		Color:       !noColor && term.IsTerminal(int(os.Stderr.Fd())),
	})
	if err != nil {
		log.Err("%s", err)
		return errors.CodeFailure
	}
	defer v.Close()

	if err := setOptions(v.Opts(), cfg); err != nil {
		log.Err("%s", err)
		return errors.CodeUsage
	}

	log.CrashOnError = false
	status := runMode(v, haveCmd, script, interactive)
	status = v.RunExitTrap(status)
	if jc != nil {
		jc.MaybeReturnTerminal()
	}
	return status
}

func setOptions(opts *state.Options, cfg *config) error {
	if err := cfg.apply(opts); err != nil {
		return err
	}
	for opt, on := range map[state.Option]bool{
		state.ErrExit: errExit,
		state.NoUnset: noUnset,
		state.XTrace:  xtrace,
		state.NoExec:  noExec,
	} {
		if on {
			opts.Set(opt, true)
		}
	}
	for _, xs := range [][]string{setOpts, shopts} {
		for _, name := range xs {
			if err := opts.SetByName(name, true); err != nil {
				return err
			}
		}
	}
	return nil
}

func runMode(v *vm.Vm, haveCmd bool, script string, interactive bool) int {
	switch {
	case haveCmd:
		return v.RunScript(command, "-c")
	case script != "":
		b, err := os.ReadFile(script)
		if err != nil {
			log.Err("%s", err)
			return errors.CodeNotFound
		}
		return v.RunScript(string(b), script)
	case interactive:
		if !noRc {
			sourceRc(v)
		}
		return v.RunInteractive(os.Stdin, os.Stderr)
	}

	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		log.Err("%s", err)
		return errors.CodeFailure
	}
	return v.RunScript(string(b), "stdin")
}

func sourceRc(v *vm.Vm) {
	path, err := homedir.Expand(rcFile)
	if err != nil {
		log.Warn("%s", err)
		return
	}
	if _, err := os.Stat(path); err != nil {
		return
	}
	if _, err := v.Source(path, nil); err != nil {
		v.Diagnostics().Fatal(err, path)
	}
}
