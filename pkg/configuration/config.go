/*
   Copyright @ 2022 The Voithos Authors.

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

package configuration

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/breqwatr/voithos"
	"github.com/breqwatr/voithos/utils"
	"github.com/breqwatr/voithos/utils/log"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	RunDirAuto   = "auto"
	RunDirAlways = "always"
	RunDirNever  = "never"

	envPrefix = "VOITHOS"
)

var opt = viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
	mapstructure.StringToTimeDurationHookFunc(),
	mapstructure.StringToSliceHookFunc(","),
))

// Config describes where scratch mounts live and how the worker treats the
// guest's system directories. It is passed explicitly to the worker.
type Config struct {
	MountBase        string   `json:"mountBase" mapstructure:"mountBase"`
	RunDir           string   `json:"runDir" mapstructure:"runDir"`
	SystemBindMounts []string `json:"systemBindMounts" mapstructure:"systemBindMounts"`
	Prompt           bool     `json:"prompt" mapstructure:"prompt"`
}

func Default() Config {
	return Config{
		MountBase:        voithos.DefaultMountBase,
		RunDir:           RunDirAuto,
		SystemBindMounts: append([]string{}, voithos.SystemBindMounts...),
		Prompt:           true,
	}
}

// New returns a validated config rooted at mountBase with default settings.
func New(mountBase string) (Config, error) {
	c := Default()
	c.MountBase = mountBase
	return c, c.Validate()
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("mountBase", d.MountBase)
	v.SetDefault("runDir", d.RunDir)
	v.SetDefault("systemBindMounts", d.SystemBindMounts)
	v.SetDefault("prompt", d.Prompt)
}

// Load reads the configuration from, in increasing precedence, the built-in
// defaults, the config file, VOITHOS_* environment variables and flags.
// An empty file means the default search path; a missing default file is not an error.
func Load(file string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	setDefaults(v)

	if file != "" {
		v.SetConfigFile(file)
	} else {
		v.AddConfigPath(voithos.DefaultConfigPath)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if file != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("failed to read configuration: %w", err)
		}
		log.Debug("No configuration file found, using defaults")
	} else {
		log.Debugf("Loaded configuration from %s", v.ConfigFileUsed())
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	for _, key := range []string{"mountBase", "runDir", "systemBindMounts", "prompt"} {
		if err := v.BindEnv(key, envPrefix+"_"+strings.ToUpper(key)); err != nil {
			return Config{}, err
		}
	}

	if flags != nil {
		for key, name := range map[string]string{
			"mountBase": "mount-base",
			"runDir":    "run-dir",
			"prompt":    "prompt",
		} {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return Config{}, err
				}
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c, opt); err != nil {
		return Config{}, fmt.Errorf("failed to unmarshal the configuration: %w", err)
	}
	c.RunDir = strings.ToLower(c.RunDir)
	if err := c.Validate(); err != nil {
		return Config{}, fmt.Errorf("failed to validate the configuration: %w", err)
	}
	return c, nil
}

func (c Config) Validate() error {
	if c.MountBase == "" || !filepath.IsAbs(c.MountBase) {
		return fmt.Errorf("mountBase must be an absolute path: %q", c.MountBase)
	}
	if filepath.Clean(c.MountBase) == "/" {
		return errors.New("mountBase must not be /")
	}
	if !utils.ContainsString([]string{RunDirAuto, RunDirAlways, RunDirNever}, c.RunDir) {
		return fmt.Errorf("runDir must be one of auto, always or never: %q", c.RunDir)
	}
	for _, p := range c.SystemBindMounts {
		if !filepath.IsAbs(p) {
			return fmt.Errorf("system bind mount must be an absolute path: %q", p)
		}
	}
	return nil
}

// RootMount is the chroot root, <base>/root.
func (c Config) RootMount() string {
	return filepath.Join(c.MountBase, voithos.RootDirName)
}

// ScratchMount maps a guest mountpoint to its sibling scratch directory,
// /var/tmp -> <base>/var_tmp. A guest /root gets <base>/root_ so it cannot
// shadow the chroot root.
func (c Config) ScratchMount(mountpoint string) string {
	name := strings.ReplaceAll(strings.Trim(mountpoint, "/"), "/", "_")
	if name == voithos.RootDirName {
		name += "_"
	}
	return filepath.Join(c.MountBase, name)
}

// ChrootPath maps a guest path to its location inside the mounted root.
func (c Config) ChrootPath(p string) string {
	return filepath.Join(c.RootMount(), p)
}
