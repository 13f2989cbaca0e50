package cmd

// Version is the application version, set at build time with
// -ldflags "-X github.com/xkilldash9x/rpa-cli/cmd.Version=1.2.0".
var Version = "dev"
