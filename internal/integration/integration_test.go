package integration

import (
	"os"
	"path/filepath"
	"testing"

	brokererr "github.com/PlasticDigits/tidaldex-broker/internal/errors"
)

const testDescriptor = `name: tidaldex
description: Swap tokens on TidalDex
kind: swap
contracts:
  router:
    address_env_var: TIDALDEX_ROUTER
    abi_file: router.json
methods:
  view:
    - name: getAmountsOut
      inputs: [amountIn, path]
  write:
    - name: swapExactTokensForTokens
      inputs: [amountIn, amountOutMin, path, to, deadline]
      summary: Swap an exact input amount
parameter_processing:
  amountIn:
    type: token_amount
    convert_from_human: true
    get_decimals_from: path[0]
  deadline:
    type: timestamp
`

const testRouterABI = `[
{"type":"function","name":"getAmountsOut","stateMutability":"view","inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
{"type":"function","name":"swapExactTokensForTokens","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

func writeDescriptor(t *testing.T, root, name, descriptor string) {
	t.Helper()
	dir := filepath.Join(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "app.yaml"), []byte(descriptor), 0o644); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "router.json"), []byte(testRouterABI), 0o644); err != nil {
		t.Fatalf("write abi: %v", err)
	}
}

func TestLoadCatalog(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "tidaldex", testDescriptor)

	catalog, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	in, ok := catalog.Get("tidaldex")
	if !ok {
		t.Fatalf("integration not loaded")
	}
	if !in.IsSwap() {
		t.Fatalf("kind: %q", in.Kind)
	}

	m, err := in.FindMethod("getAmountsOut", MethodView)
	if err != nil {
		t.Fatalf("FindMethod view: %v", err)
	}
	if len(m.Inputs) != 2 || m.Inputs[0] != "amountIn" {
		t.Fatalf("method inputs: %v", m.Inputs)
	}
	if _, err := in.FindMethod("getAmountsOut", MethodWrite); !brokererr.HasCode(err, brokererr.CodeUsage) {
		t.Fatalf("view method found among writes: %v", err)
	}
	if _, err := in.FindMethod("nope", MethodView); !brokererr.HasCode(err, brokererr.CodeUsage) {
		t.Fatalf("unknown method must be a hard error: %v", err)
	}

	rule, ok := in.ParamRuleFor("amountIn")
	if !ok || !rule.ConvertFromHuman || rule.GetDecimalsFrom != "path[0]" {
		t.Fatalf("param rule: %+v", rule)
	}
}

func TestLoadSkipsBrokenDescriptors(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "tidaldex", testDescriptor)
	broken := filepath.Join(root, "broken")
	if err := os.MkdirAll(broken, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(broken, "app.yaml"), []byte("name: [oops"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	catalog, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(catalog.List()) != 1 {
		t.Fatalf("catalog size: %d", len(catalog.List()))
	}
}

func TestListIsSorted(t *testing.T) {
	catalog := &Catalog{}
	catalog.Add(&Integration{Name: "zeta"})
	catalog.Add(&Integration{Name: "alpha"})
	catalog.Add(&Integration{Name: "mid"})

	list := catalog.List()
	if len(list) != 3 || list[0].Name != "alpha" || list[1].Name != "mid" || list[2].Name != "zeta" {
		t.Fatalf("list order: %v", list)
	}
}

func TestResolveContract(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "tidaldex", testDescriptor)
	catalog, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	in, _ := catalog.Get("tidaldex")
	m, _ := in.FindMethod("swapExactTokensForTokens", MethodWrite)

	os.Unsetenv("TIDALDEX_ROUTER")
	if _, _, _, err := in.ResolveContract(m); !brokererr.HasCode(err, brokererr.CodeConfig) {
		t.Fatalf("unset address env: %v", err)
	}

	t.Setenv("TIDALDEX_ROUTER", "0x0000000000000000000000000000000000000001")
	name, address, cabi, err := in.ResolveContract(m)
	if err != nil {
		t.Fatalf("ResolveContract: %v", err)
	}
	if name != "router" || address == "" {
		t.Fatalf("resolved %s %s", name, address)
	}
	if _, ok := cabi.Methods["swapExactTokensForTokens"]; !ok {
		t.Fatalf("abi missing method")
	}
}

func TestValidateReportsProblems(t *testing.T) {
	root := t.TempDir()
	writeDescriptor(t, root, "tidaldex", testDescriptor)
	catalog, err := Load(root)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	os.Unsetenv("TIDALDEX_ROUTER")
	problems := catalog.Validate("tidaldex")
	if len(problems) == 0 {
		t.Fatalf("expected problems with unset address env var")
	}
	if got := catalog.Validate("nope"); len(got) != 1 {
		t.Fatalf("unknown integration: %v", got)
	}

	t.Setenv("TIDALDEX_ROUTER", "0x0000000000000000000000000000000000000001")
	if problems := catalog.Validate("tidaldex"); len(problems) != 0 {
		t.Fatalf("unexpected problems: %v", problems)
	}
}
