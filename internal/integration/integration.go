package integration

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"gopkg.in/yaml.v3"

	brokererr "github.com/PlasticDigits/tidaldex-broker/internal/errors"
)

// MethodKind separates read-only methods from state-changing ones.
type MethodKind string

const (
	MethodView  MethodKind = "view"
	MethodWrite MethodKind = "write"
)

// Method is a declared contract method an integration exposes to sessions.
// Inputs are ordered parameter names; their order is the call order.
type Method struct {
	Name     string   `yaml:"name"`
	Contract string   `yaml:"contract"`
	Inputs   []string `yaml:"inputs"`
	Summary  string   `yaml:"summary"`
}

// ContractConfig points at a deployed contract. The address comes from the
// environment so one descriptor works across deployments.
type ContractConfig struct {
	AddressEnvVar string `yaml:"address_env_var"`
	ABIFile       string `yaml:"abi_file"`
}

// ParamRule drives parameter coercion for one named parameter.
type ParamRule struct {
	Type             string `yaml:"type"`
	ConvertFromHuman bool   `yaml:"convert_from_human"`
	GetDecimalsFrom  string `yaml:"get_decimals_from"`
	Default          string `yaml:"default"`
}

// Integration is one loaded app descriptor: the set of contracts and methods
// a session may act on.
type Integration struct {
	Name        string                    `yaml:"name"`
	Description string                    `yaml:"description"`
	Kind        string                    `yaml:"kind"`
	Contracts   map[string]ContractConfig `yaml:"contracts"`
	Methods     struct {
		View  []Method `yaml:"view"`
		Write []Method `yaml:"write"`
	} `yaml:"methods"`
	Params map[string]ParamRule `yaml:"parameter_processing"`

	dir  string
	abis map[string]abi.ABI
}

// KindSwap marks integrations whose quote methods are eligible for
// multi-route probing.
const KindSwap = "swap"

func (in *Integration) IsSwap() bool { return in.Kind == KindSwap }

// FindMethod resolves a declared method by name and kind. An unknown method
// is a hard error, never a silent miss.
func (in *Integration) FindMethod(name string, kind MethodKind) (Method, error) {
	methods := in.Methods.View
	if kind == MethodWrite {
		methods = in.Methods.Write
	}
	for _, m := range methods {
		if m.Name == name {
			return m, nil
		}
	}
	return Method{}, brokererr.New(brokererr.CodeUsage,
		fmt.Sprintf("%s method %s not declared by integration %s", kind, name, in.Name))
}

// ResolveContract returns the contract name, on-chain address and parsed ABI
// for a method, falling back to the integration's first declared contract
// when the method carries no override.
func (in *Integration) ResolveContract(m Method) (name, address string, parsed abi.ABI, err error) {
	name = m.Contract
	if name == "" {
		name = in.defaultContractName()
	}
	cfg, ok := in.Contracts[name]
	if !ok {
		return "", "", abi.ABI{}, brokererr.New(brokererr.CodeConfig,
			fmt.Sprintf("integration %s declares no contract %q", in.Name, name))
	}
	address = os.Getenv(cfg.AddressEnvVar)
	if address == "" {
		return "", "", abi.ABI{}, brokererr.New(brokererr.CodeConfig,
			fmt.Sprintf("contract address not set: %s", cfg.AddressEnvVar))
	}
	parsed, ok = in.abis[name]
	if !ok {
		return "", "", abi.ABI{}, brokererr.New(brokererr.CodeConfig,
			fmt.Sprintf("abi not loaded for contract %s", name))
	}
	return name, address, parsed, nil
}

func (in *Integration) defaultContractName() string {
	// Descriptors with multiple contracts must set an explicit override on
	// methods that do not target the lexicographically first one.
	best := ""
	for name := range in.Contracts {
		if best == "" || name < best {
			best = name
		}
	}
	return best
}

// ParamRuleFor returns the coercion rule for a parameter, if any.
func (in *Integration) ParamRuleFor(param string) (ParamRule, bool) {
	rule, ok := in.Params[param]
	return rule, ok
}

// Catalog holds every loadable integration, resolved and validated once at
// startup. It is injected into call sites, never a package global.
type Catalog struct {
	loaded map[string]*Integration
}

// Load reads every subdirectory of dir containing an app.yaml descriptor.
// A directory that fails to load is skipped; validation errors surface via
// Validate so one broken descriptor does not take down the rest.
func Load(dir string) (*Catalog, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, brokererr.Wrap(brokererr.CodeConfig, "read integrations directory", err)
	}
	catalog := &Catalog{loaded: make(map[string]*Integration)}
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		in, err := loadOne(filepath.Join(dir, entry.Name()))
		if err != nil {
			continue
		}
		catalog.loaded[in.Name] = in
	}
	return catalog, nil
}

func loadOne(dir string) (*Integration, error) {
	buf, err := os.ReadFile(filepath.Join(dir, "app.yaml"))
	if err != nil {
		return nil, fmt.Errorf("read descriptor: %w", err)
	}
	var in Integration
	if err := yaml.Unmarshal(buf, &in); err != nil {
		return nil, fmt.Errorf("parse descriptor yaml: %w", err)
	}
	if in.Name == "" || len(in.Contracts) == 0 {
		return nil, fmt.Errorf("descriptor in %s missing name or contracts", dir)
	}
	in.dir = dir
	in.abis = make(map[string]abi.ABI, len(in.Contracts))
	for name, cfg := range in.Contracts {
		raw, err := os.ReadFile(filepath.Join(dir, cfg.ABIFile))
		if err != nil {
			return nil, fmt.Errorf("read abi for contract %s: %w", name, err)
		}
		parsed, err := abi.JSON(strings.NewReader(string(raw)))
		if err != nil {
			return nil, fmt.Errorf("parse abi for contract %s: %w", name, err)
		}
		in.abis[name] = parsed
	}
	return &in, nil
}

// NewForTest builds an in-memory integration; tests supply ABIs directly.
func NewForTest(name, kind string, contracts map[string]ContractConfig, abis map[string]abi.ABI) *Integration {
	in := &Integration{Name: name, Kind: kind, Contracts: contracts}
	in.abis = abis
	return in
}

func (c *Catalog) Get(name string) (*Integration, bool) {
	in, ok := c.loaded[name]
	return in, ok
}

// Add registers an integration directly. Used by tests and embedded setups.
func (c *Catalog) Add(in *Integration) {
	if c.loaded == nil {
		c.loaded = make(map[string]*Integration)
	}
	c.loaded[in.Name] = in
}

// List returns name/description pairs for every loaded integration, sorted
// for stable output.
func (c *Catalog) List() []Summary {
	out := make([]Summary, 0, len(c.loaded))
	for _, in := range c.loaded {
		out = append(out, Summary{Name: in.Name, Description: in.Description})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

type Summary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Validate reports configuration problems for one integration: unset contract
// address variables, missing method metadata.
func (c *Catalog) Validate(name string) []string {
	in, ok := c.loaded[name]
	if !ok {
		return []string{fmt.Sprintf("integration %s not found", name)}
	}
	var problems []string
	for contractName, cfg := range in.Contracts {
		if os.Getenv(cfg.AddressEnvVar) == "" {
			problems = append(problems, fmt.Sprintf("environment variable %s not set for contract %s", cfg.AddressEnvVar, contractName))
		}
	}
	for _, m := range append(append([]Method{}, in.Methods.View...), in.Methods.Write...) {
		if m.Name == "" {
			problems = append(problems, "method missing name")
			continue
		}
		if m.Inputs == nil {
			problems = append(problems, fmt.Sprintf("method %s missing inputs", m.Name))
		}
	}
	return problems
}
