/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/profile"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var (
	cfgFile  string
	profiler interface{ Stop() }
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chemhydro",
	Short: "Chemically reacting compressible flow on a distributed 3D grid",
	Long: `chemhydro advances the 3D Euler equations with WENO5 reconstruction
coupled to a primordial chemistry network, integrated with an IMEX scheme
whose implicit chemistry solve is block diagonal across ranks.

Global settings can be given on the command line, in a config file
($HOME/.chemhydro.yaml or --config) or in environment variables of the form
CHEMHYDRO_<name>.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) (err error) {
		if err = setLogging(viper.GetString("log-level")); err != nil {
			return
		}
		profiler, err = startProfile(viper.GetString("profile"))
		return
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if profiler != nil {
			profiler.Stop()
			profiler = nil
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.chemhydro.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "logging level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("profile", "", "write a cpu, mem or trace profile to the working directory")
	rootCmd.PersistentFlags().Bool("perf", false, "count CPU instructions of the chemistry kernels (Linux only)")
	rootCmd.PersistentFlags().Int("parallel-degree", 0, "goroutine partitions per rank, 0 uses every CPU")
	bindFlags(rootCmd.PersistentFlags(), "log-level", "profile", "perf", "parallel-degree")
}

// bindFlags makes each named flag the command line source of the viper key
// of the same name
func bindFlags(set *pflag.FlagSet, names ...string) {
	for _, name := range names {
		if err := viper.BindPFlag(name, set.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".chemhydro")
	}
	viper.SetEnvPrefix("CHEMHYDRO")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err == nil {
		logrus.WithField("file", viper.ConfigFileUsed()).Debug("using config file")
	} else if cfgFile != "" {
		fmt.Printf("error: problem reading config file %s: %v\n", cfgFile, err)
		os.Exit(1)
	}
}

func setLogging(level string) (err error) {
	var lvl logrus.Level
	if lvl, err = logrus.ParseLevel(level); err != nil {
		return fmt.Errorf("log-level: %v", err)
	}
	logrus.SetFormatter(&logrus.TextFormatter{
		ForceColors:     true,
		FullTimestamp:   true,
		TimestampFormat: time.RFC3339Nano,
		DisableSorting:  true,
	})
	logrus.SetLevel(lvl)
	return
}

func startProfile(mode string) (p interface{ Stop() }, err error) {
	switch strings.ToLower(mode) {
	case "":
	case "cpu":
		p = profile.Start(profile.CPUProfile, profile.ProfilePath("."), profile.NoShutdownHook)
	case "mem":
		p = profile.Start(profile.MemProfile, profile.ProfilePath("."), profile.NoShutdownHook)
	case "trace":
		p = profile.Start(profile.TraceProfile, profile.ProfilePath("."), profile.NoShutdownHook)
	default:
		err = fmt.Errorf("profile must be cpu, mem or trace, have %q", mode)
	}
	return
}
