package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envPrefix namespaces environment overrides: --lb-period becomes PERT_LB_PERIOD.
const envPrefix = "PERT"

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	return v
}

// bindConfig fills every flag the user did not set on the command line from
// the environment or cfgFile, in that order of precedence.
func bindConfig(v *viper.Viper, fs *pflag.FlagSet, cfgFile string) error {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config %s: %w", cfgFile, err)
		}
	}
	var errs []string
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		for _, val := range configValues(v.Get(f.Name)) {
			if err := fs.Set(f.Name, val); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", f.Name, err))
				return
			}
		}
	})
	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// configValues flattens a config value into flag arguments. Lists set a
// repeatable flag once per element.
func configValues(raw any) []string {
	switch val := raw.(type) {
	case []any:
		out := make([]string, len(val))
		for i, e := range val {
			out[i] = fmt.Sprint(e)
		}
		return out
	case []string:
		return val
	}
	return []string{fmt.Sprint(raw)}
}
