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

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/notargets/chemhydro/chemistry/primordial"
	"github.com/notargets/chemhydro/chemistry/ratetable"
)

// RatesCmd writes the built in primordial rate tables
var RatesCmd = &cobra.Command{
	Use:   "rates",
	Short: "Write the synthetic primordial rate tables to a netCDF file",
	Long: `Write the synthetic primordial rate tables to a netCDF file, which the 3D
command reads with the ratefile input parameter`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		var (
			file     string
			redshift float64
			verbose  bool
		)
		if file, err = cmd.Flags().GetString("outputFile"); err != nil {
			panic(err)
		}
		if redshift, err = cmd.Flags().GetFloat64("redshift"); err != nil {
			panic(err)
		}
		verbose, _ = cmd.Flags().GetBool("verbose")
		return WriteRates(file, redshift, verbose)
	},
}

func init() {
	rootCmd.AddCommand(RatesCmd)
	RatesCmd.Flags().StringP("outputFile", "o", "primordial_tables.nc", "rate table file to write")
	RatesCmd.Flags().Float64P("redshift", "z", 0, "redshift stored with the tables")
	RatesCmd.Flags().BoolP("verbose", "v", false, "print the tables")
}

func WriteRates(file string, redshift float64, verbose bool) (err error) {
	var s *ratetable.Set
	if s, err = primordial.SyntheticRates(redshift); err != nil {
		return
	}
	if verbose {
		s.Print()
	}
	var fp *os.File
	if fp, err = os.Create(file); err != nil {
		return
	}
	defer func() {
		if e := fp.Close(); err == nil {
			err = e
		}
	}()
	if err = s.Write(fp); err != nil {
		return fmt.Errorf("%s: %w", file, err)
	}
	logrus.WithFields(logrus.Fields{"file": file, "tables": len(s.Names)}).Info("rate tables written")
	return
}
