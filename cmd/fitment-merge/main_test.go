package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"caraudiopos/backend/internal/domain"
	"caraudiopos/backend/internal/store/memory"
	"caraudiopos/backend/internal/vendor"
)

const metraHeader = `,,,,,,Dash Kit,,Harness,,,,,,Antenna,,Interface
,,,,,,Single DIN,Double DIN,Amplified,,,Non-Amplified,,,,,
Make,Model,Trim,,Year Start,Year End,,,Into Car,Into Radio,Bypass,Into Car,Into Radio,Bypass,Adapter,Power,
`

func writeTemp(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--env-file", ""}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestMergeCommandUnionsInputsIntoMaster(t *testing.T) {
	dir := t.TempDir()
	a := writeTemp(t, dir, "a.csv", metraHeader+"Honda,Civic,,,2016,2017,99-7800,,,,,,,,,,ADS-MRR\n")
	b := writeTemp(t, dir, "b.csv", metraHeader+"Honda,Civic,,,2017,2017,,95-7800,,,,,,,,,\n,,,,,,,,,,,,,,,,\n")
	masterPath := writeTemp(t, dir, "master.json", `{"2019|Kia|Rio":{"maestro":["ADS-KIA"]}}`)

	out, err := execute(t, "merge", "--in", a, "--in", b, "--master", masterPath)
	require.NoError(t, err)

	var printed struct {
		Reports []vendor.Report `json:"reports"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &printed))
	require.Len(t, printed.Reports, 2)
	require.Equal(t, "a.csv", printed.Reports[0].Source)
	require.Equal(t, 2, printed.Reports[0].Vehicles)
	require.Equal(t, 1, printed.Reports[1].Skipped)

	f, err := os.Open(masterPath)
	require.NoError(t, err)
	defer f.Close()
	master, err := vendor.ReadMaster(f)
	require.NoError(t, err)

	require.Len(t, master, 3)
	require.Equal(t, []string{"ADS-KIA"}, master["2019|kia|rio|"].Maestro)
	civic := master["2017|honda|civic|"]
	require.Equal(t, []string{"99-7800"}, civic.DashKits.SingleDin)
	require.Equal(t, []string{"95-7800"}, civic.DashKits.DoubleDin)
	require.Equal(t, []string{"ADS-MRR"}, civic.Maestro)
}

func TestMergeCommandWritesToOutAndKeepsMaster(t *testing.T) {
	dir := t.TempDir()
	in := writeTemp(t, dir, "a.csv", metraHeader+"Toyota,Camry,LE,,2019,2019,99-8225,,,,,,,,,,\n")
	outPath := filepath.Join(dir, "merged.json")

	_, err := execute(t, "merge", "--in", in, "--master", filepath.Join(dir, "missing.json"), "--out", outPath)
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(dir, "missing.json"))
	require.True(t, os.IsNotExist(err), "a missing master is read as empty and never created")

	raw, err := os.ReadFile(outPath)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"2019|toyota|camry|le"`)
}

func TestMergeCommandRejectsUnknownLayout(t *testing.T) {
	dir := t.TempDir()
	in := writeTemp(t, dir, "a.csv", metraHeader)

	_, err := execute(t, "merge", "--layout", "crutchfield", "--in", in, "--master", filepath.Join(dir, "m.json"))
	require.ErrorIs(t, err, vendor.ErrUnknownLayout)
}

func TestMergeCommandLoadsLayoutOverrides(t *testing.T) {
	dir := t.TempDir()
	layouts := writeTemp(t, dir, "layouts.yaml", `layouts:
  - name: installer
    headerRows: 1
    fields:
      dashKits.singleDin:
        - section: kit
`)
	in := writeTemp(t, dir, "a.csv", "Make,Model,Trim,,Year Start,Year End,Kit\nMazda,CX-5,,,2020,2020,99-7511\n")
	masterPath := filepath.Join(dir, "m.json")

	_, err := execute(t, "merge", "--layout", "installer", "--layouts", layouts, "--in", in, "--master", masterPath)
	require.NoError(t, err)

	raw, err := os.ReadFile(masterPath)
	require.NoError(t, err)
	require.Contains(t, string(raw), "99-7511")
}

func TestMergeCommandFailsOnUnreadableInput(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, "merge", "--in", filepath.Join(dir, "nope.csv"), "--master", filepath.Join(dir, "m.json"))
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "read input"))
}

func TestPublishSavesSnapshot(t *testing.T) {
	dir := t.TempDir()
	masterPath := writeTemp(t, dir, "master.json", `{"2018|Honda|Civic":{"dashKits":{"singleDin":["99-7800"],"doubleDin":[]}}}`)
	fitmentPath := writeTemp(t, dir, "fitment.json", `[{"yearStart":2018,"yearEnd":2019,"make":"Honda","model":"Civic",
		"locations":[{"role":"Front Door","sizes":["6.5"]}]}]`)

	repo := memory.New()
	snapshot, err := publish(context.Background(), repo, publishOptions{master: masterPath, fitment: fitmentPath})
	require.NoError(t, err)
	require.Contains(t, snapshot.Accessories, "2018|honda|civic|")

	stored, err := repo.LoadFitmentSnapshot(context.Background())
	require.NoError(t, err)
	require.Len(t, stored.Fitments, 1)
	require.Equal(t, []string{"99-7800"}, stored.Accessories["2018|honda|civic|"].DashKits.SingleDin)
}

func TestPublishDryRunPrintsSummary(t *testing.T) {
	dir := t.TempDir()
	masterPath := writeTemp(t, dir, "master.json", `{}`)
	fitmentPath := writeTemp(t, dir, "fitment.json", `[{"yearStart":2018,"yearEnd":2019,"make":"Honda","model":"Civic","locations":[]}]`)

	out, err := execute(t, "publish", "--dry-run", "--master", masterPath, "--fitment", fitmentPath)
	require.NoError(t, err)
	require.Contains(t, out, "2 fitment keys, 0 accessory keys")
}

func TestPublishRequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	dir := t.TempDir()
	fitmentPath := writeTemp(t, dir, "fitment.json", `[]`)

	_, err := execute(t, "publish", "--master", writeTemp(t, dir, "m.json", `{}`), "--fitment", fitmentPath)
	require.ErrorContains(t, err, "DATABASE_URL")
}

type failingSaver struct{}

func (failingSaver) SaveFitmentSnapshot(context.Context, domain.FitmentSnapshot) error {
	return os.ErrPermission
}

func TestPublishWrapsSaveErrors(t *testing.T) {
	dir := t.TempDir()
	masterPath := writeTemp(t, dir, "master.json", `{}`)
	fitmentPath := writeTemp(t, dir, "fitment.json", `[]`)

	_, err := publish(context.Background(), failingSaver{}, publishOptions{master: masterPath, fitment: fitmentPath})
	require.ErrorIs(t, err, os.ErrPermission)
}
