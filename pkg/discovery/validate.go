package discovery

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/cuemby/burrow/pkg/fault"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// allowedSchemes lists the URL schemes accepted for each hypervisor hint
var allowedSchemes = map[types.HypervisorType][]string{
	types.HypervisorKVM:       {"http", "https"},
	types.HypervisorLXC:       {"http", "https"},
	types.HypervisorXenServer: {"http", "https"},
	types.HypervisorBareMetal: {"http", "https"},
	types.HypervisorVMware:    {"http", "https", "vmware"},
	types.HypervisorSimulator: {"dummy", "sim", "http"},
	types.HypervisorAny:       {"http", "https", "vmware", "dummy", "sim", "nfs", "cifs"},
}

func validateStruct(req interface{}) error {
	if err := validate.Struct(req); err != nil {
		var fields []string
		if verrs, ok := err.(validator.ValidationErrors); ok {
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
		} else {
			fields = append(fields, err.Error())
		}
		return fault.Wrap(fault.KindInvalidParameter, err, "invalid request: %s", strings.Join(fields, ", "))
	}
	return nil
}

// parseURL checks the endpoint URL and its scheme against the hypervisor hint
func parseURL(raw string, hypervisor types.HypervisorType) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fault.Wrap(fault.KindInvalidParameter, err, "%s is not a valid uri", raw)
	}
	if u.Scheme == "" {
		return nil, fault.InvalidParameter("%s has no scheme", raw)
	}

	schemes, ok := allowedSchemes[hypervisor]
	if !ok {
		return nil, fault.InvalidParameter("hypervisor %s is not supported for discovery", hypervisor)
	}
	scheme := strings.ToLower(u.Scheme)
	for _, s := range schemes {
		if s == scheme {
			return u, nil
		}
	}
	return nil, fault.InvalidParameter("scheme %s is not valid for %s hosts, expected one of %s",
		u.Scheme, hypervisor, strings.Join(schemes, ", "))
}

// mergeTags returns explicit tags followed by advertised tags not already present
func mergeTags(explicit, advertised []string) []string {
	seen := make(map[string]bool, len(explicit)+len(advertised))
	out := make([]string, 0, len(explicit)+len(advertised))
	for _, list := range [][]string{explicit, advertised} {
		for _, tag := range list {
			tag = strings.TrimSpace(tag)
			if tag == "" || seen[tag] {
				continue
			}
			seen[tag] = true
			out = append(out, tag)
		}
	}
	return out
}
