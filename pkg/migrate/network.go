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

package migrate

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"

	"github.com/breqwatr/voithos/utils/log"
	netutils "k8s.io/utils/net"
)

const (
	networkScriptsDir  = "/etc/sysconfig/network-scripts"
	persistentNetRules = "/etc/udev/rules.d/70-persistent-net.rules"
)

// ErrInterfaceRuleExists means the guest udev rules already name the interface.
var ErrInterfaceRuleExists = errors.New("interface already has a udev rule")

// NetInterface is a guest network interface pinned to a MAC address.
type NetInterface struct {
	Name    string
	MAC     string
	DHCP    bool
	IP      string
	Prefix  int
	Gateway string
	DNS     []string
	Domain  string
}

// InterfaceConfigurer is implemented by families that can write a persistent
// interface configuration into the guest.
type InterfaceConfigurer interface {
	SetInterface(c *Chroot, n NetInterface) ([]string, error)
}

func isIP(s string) bool {
	return netutils.IsIPv4String(s) || netutils.IsIPv6String(s)
}

func (n NetInterface) Validate() error {
	if n.Name == "" || strings.ContainsAny(n.Name, "/ \t\"") {
		return fmt.Errorf("invalid interface name %q", n.Name)
	}
	if _, err := net.ParseMAC(n.MAC); err != nil {
		return fmt.Errorf("invalid MAC address %q: %w", n.MAC, err)
	}
	if !n.DHCP {
		bits := 0
		switch {
		case netutils.IsIPv4String(n.IP):
			bits = 32
		case netutils.IsIPv6String(n.IP):
			bits = 128
		default:
			return fmt.Errorf("a static interface needs a valid IP address, got %q", n.IP)
		}
		if n.Prefix < 1 || n.Prefix > bits {
			return fmt.Errorf("invalid prefix %d for %s", n.Prefix, n.IP)
		}
		if n.Gateway != "" && !isIP(n.Gateway) {
			return fmt.Errorf("invalid gateway %q", n.Gateway)
		}
	}
	for _, d := range n.DNS {
		if !isIP(d) {
			return fmt.Errorf("invalid DNS server %q", d)
		}
	}
	return nil
}

// hwaddr is the MAC in the lower-case colon form udev compares against.
func (n NetInterface) hwaddr() string {
	mac, err := net.ParseMAC(n.MAC)
	if err != nil {
		return strings.ToLower(n.MAC)
	}
	return mac.String()
}

// ifcfg renders the network-scripts file for the interface.
func (n NetInterface) ifcfg() string {
	bootproto := "static"
	if n.DHCP {
		bootproto = "dhcp"
	}
	lines := []string{
		"DEVICE=" + n.Name,
		"BOOTPROTO=" + bootproto,
		"ONBOOT=yes",
		"USERCTL=no",
		"HWADDR=" + n.hwaddr(),
	}
	if !n.DHCP {
		lines = append(lines, "IPADDR="+n.IP, fmt.Sprintf("PREFIX=%d", n.Prefix))
		if n.Gateway != "" {
			lines = append(lines, "DEFROUTE=yes", "GATEWAY="+n.Gateway)
		}
	}
	for i, d := range n.DNS {
		lines = append(lines, fmt.Sprintf("DNS%d=%s", i+1, d))
	}
	if n.Domain != "" {
		lines = append(lines, "DOMAIN="+n.Domain)
	}
	return strings.Join(lines, "\n") + "\n"
}

// udevRule pins the interface name to the MAC address.
func (n NetInterface) udevRule() string {
	return fmt.Sprintf(`SUBSYSTEM=="net", ACTION=="add", DRIVERS=="?*", ATTR{address}=="%s", NAME="%s"`, n.hwaddr(), n.Name) + "\n"
}

// SetInterface writes ifcfg-<name> and appends a persistent-net udev rule.
// Nothing is written when the rules already name the interface.
func (RHEL) SetInterface(c *Chroot, n NetInterface) ([]string, error) {
	rules := c.Path(persistentNetRules)
	existing, err := os.ReadFile(rules)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read %s: %w", persistentNetRules, err)
	}
	if strings.Contains(string(existing), fmt.Sprintf(`NAME="%s"`, n.Name)) {
		return nil, fmt.Errorf("%w: %s in %s, remove it first", ErrInterfaceRuleExists, n.Name, persistentNetRules)
	}

	ifcfg := filepath.Join(networkScriptsDir, "ifcfg-"+n.Name)
	log.Infof("Creating interface file at %s", ifcfg)
	log.Debugf("%s:\n%s", ifcfg, n.ifcfg())
	if err := os.MkdirAll(c.Path(networkScriptsDir), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(c.Path(ifcfg), []byte(n.ifcfg()), 0o644); err != nil {
		return nil, fmt.Errorf("failed to write %s: %w", ifcfg, err)
	}

	log.Infof("Appending udev rule for %s to %s", n.Name, persistentNetRules)
	if err := os.MkdirAll(filepath.Dir(rules), 0o755); err != nil {
		return nil, err
	}
	text := n.udevRule()
	if len(existing) > 0 && !strings.HasSuffix(string(existing), "\n") {
		text = "\n" + text
	}
	f, err := os.OpenFile(rules, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", persistentNetRules, err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		return nil, fmt.Errorf("failed to append to %s: %w", persistentNetRules, err)
	}
	return []string{ifcfg, persistentNetRules}, nil
}
