package config

import (
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var chair = common.HexToAddress("0x00000000000000000000000000000000000c4a17")

func TestDefaultConfigIsValid(t *testing.T) {
	cfg, err := FromYAML([]byte(GenerateDefault(chair)))
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	if cfg.ChairpersonAddress() != chair {
		t.Fatalf("chairperson = %s", cfg.ChairpersonAddress().Hex())
	}
	if cfg.Voting.Duration != 7*24*time.Hour {
		t.Fatalf("duration = %s", cfg.Voting.Duration)
	}
	if cfg.ReferenceSupplyInt().Sign() != 0 {
		t.Fatalf("reference supply = %s", cfg.ReferenceSupplyInt())
	}
	if got := cfg.RBAC.Roles[RoleConfigurator].Permissions; len(got) != 1 || got[0] != "dao.configure" {
		t.Fatalf("configurator permissions = %v", got)
	}

	out, err := cfg.ToYAML()
	if err != nil {
		t.Fatalf("to yaml: %v", err)
	}
	again, err := FromYAML(out)
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	if again.Voting.Duration != cfg.Voting.Duration || again.CustodyAddress() != cfg.CustodyAddress() {
		t.Fatalf("round trip changed config: %+v", again)
	}
}

func TestValidateRejects(t *testing.T) {
	base := GenerateDefault(chair)
	cases := map[string]string{
		"quorum over 100":     strings.Replace(base, "min_quorum_percent: 40", "min_quorum_percent: 101", 1),
		"zero duration":       strings.Replace(base, "duration: 168h", "duration: 0s", 1),
		"bad custody":         strings.Replace(base, "0x000000000000000000000000000000000000dA0A", "custody", 1),
		"unknown token mode":  strings.Replace(base, "mode: ledger", "mode: paper", 1),
		"erc20 without chain": strings.Replace(base, "mode: ledger", "mode: erc20", 1),
		"no chairperson role": strings.Replace(base, "    chairperson:\n", "    chair:\n", 1),
		"non numeric supply":  strings.Replace(base, `reference_supply: "0"`, `reference_supply: "lots"`, 1),
	}
	for name, yml := range cases {
		t.Run(name, func(t *testing.T) {
			if yml == base {
				t.Fatalf("replacement did not apply")
			}
			if _, err := FromYAML([]byte(yml)); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestLoadOptionalMissing(t *testing.T) {
	cfg, err := LoadOptional(t.TempDir())
	if err != nil || cfg != nil {
		t.Fatalf("LoadOptional = %v, %v", cfg, err)
	}
	if _, err := Load(t.TempDir()); err == nil || !strings.Contains(err.Error(), "dao init") {
		t.Fatalf("Load error = %v", err)
	}
}
