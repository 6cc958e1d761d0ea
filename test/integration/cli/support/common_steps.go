package support

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/MeKo-Tech/detmap/cmd/detmap/cmd"
	"github.com/MeKo-Tech/detmap/internal/testutil"
	"github.com/cucumber/godog"
)

// RegisterCommonSteps registers the CLI step definitions.
func (testCtx *TestContext) RegisterCommonSteps(sc *godog.ScenarioContext) {
	// Setup steps
	sc.Step(`^a file "([^"]*)" with content:$`, testCtx.aFileWithContent)
	sc.Step(`^the "([^"]*)" fixture files exist$`, testCtx.theFixtureFilesExist)
	sc.Step(`^the environment variable "([^"]*)" is set to "([^"]*)"$`, testCtx.theEnvironmentVariableIsSetTo)

	// Command execution steps
	sc.Step(`^I run "([^"]*)"$`, testCtx.iRunCommand)

	// Assertion steps
	sc.Step(`^the command should succeed$`, testCtx.theCommandShouldSucceed)
	sc.Step(`^the command should fail$`, testCtx.theCommandShouldFail)
	sc.Step(`^the output should contain "([^"]*)"$`, testCtx.theOutputShouldContain)
	sc.Step(`^the output should not contain "([^"]*)"$`, testCtx.theOutputShouldNotContain)
	sc.Step(`^the output should be "([^"]*)"$`, testCtx.theOutputShouldBe)
	sc.Step(`^the output should be valid JSON$`, testCtx.theOutputShouldBeValidJSON)
	sc.Step(`^the output should have (\d+) lines$`, testCtx.theOutputShouldHaveLines)
	sc.Step(`^the JSON field "([^"]*)" should be approximately (-?[0-9.]+)$`, testCtx.theJSONFieldShouldBeApproximately)
	sc.Step(`^the JSON field "([^"]*)" should be "([^"]*)"$`, testCtx.theJSONFieldShouldBe)
	sc.Step(`^the JSON array "([^"]*)" should have (\d+) items?$`, testCtx.theJSONArrayShouldHaveItems)
	sc.Step(`^the error should mention "([^"]*)"$`, testCtx.theErrorShouldMention)
	sc.Step(`^the file "([^"]*)" should exist$`, testCtx.theFileShouldExist)
	sc.Step(`^the file "([^"]*)" should contain "([^"]*)"$`, testCtx.theFileShouldContain)
}

// aFileWithContent writes a doc string into the scenario's temp directory.
func (testCtx *TestContext) aFileWithContent(name string, content *godog.DocString) error {
	if err := os.WriteFile(testCtx.Path(name), []byte(content.Content), 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

// theFixtureFilesExist writes <name>_preds.json and <name>_gts.json for a built-in fixture.
func (testCtx *TestContext) theFixtureFilesExist(name string) error {
	for _, f := range testutil.SampleFixtures() {
		if f.Name != name {
			continue
		}
		if err := testCtx.writeRecords(name+"_preds.json", f.Predictions); err != nil {
			return err
		}
		return testCtx.writeRecords(name+"_gts.json", f.GroundTruths)
	}
	return fmt.Errorf("unknown fixture %q", name)
}

func (testCtx *TestContext) writeRecords(name string, records [][]float64) error {
	data, err := json.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", name, err)
	}
	if err := os.WriteFile(testCtx.Path(name), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func (testCtx *TestContext) theEnvironmentVariableIsSetTo(key, value string) error {
	testCtx.SetEnv(key, value)
	return nil
}

// iRunCommand executes a detmap command line in-process.
func (testCtx *TestContext) iRunCommand(command string) error {
	command = testCtx.substitute(command)
	testCtx.LastCommand = command

	parts := strings.Fields(command)
	if len(parts) == 0 {
		return errors.New("empty command")
	}
	if parts[0] != "detmap" {
		return fmt.Errorf("unsupported command %q", parts[0])
	}

	root := cmd.GetRootCommand()
	stdout, stderr := new(bytes.Buffer), new(bytes.Buffer)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(parts[1:])

	testCtx.LastError = root.Execute()
	testCtx.LastOutput = stdout.String()
	testCtx.LastStderr = stderr.String()
	return nil
}

func (testCtx *TestContext) theCommandShouldSucceed() error {
	if testCtx.LastError != nil {
		return fmt.Errorf("command %q failed: %w\nStderr: %s", testCtx.LastCommand, testCtx.LastError, testCtx.LastStderr)
	}
	return nil
}

func (testCtx *TestContext) theCommandShouldFail() error {
	if testCtx.LastError == nil {
		return fmt.Errorf("command succeeded when it should have failed\nOutput: %s", testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldContain(expectedText string) error {
	if !strings.Contains(testCtx.LastOutput, expectedText) {
		return fmt.Errorf("output does not contain '%s'\nActual output: %s", expectedText, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldNotContain(text string) error {
	if strings.Contains(testCtx.LastOutput, text) {
		return fmt.Errorf("output unexpectedly contains '%s'\nActual output: %s", text, testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldBe(expected string) error {
	if got := strings.TrimSpace(testCtx.LastOutput); got != expected {
		return fmt.Errorf("expected output %q, got %q", expected, got)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldBeValidJSON() error {
	if !json.Valid([]byte(testCtx.LastOutput)) {
		return fmt.Errorf("output is not valid JSON\nOutput: %s", testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theOutputShouldHaveLines(n int) error {
	lines := strings.Split(strings.TrimRight(testCtx.LastOutput, "\n"), "\n")
	if len(lines) != n {
		return fmt.Errorf("expected %d lines, got %d\nOutput: %s", n, len(lines), testCtx.LastOutput)
	}
	return nil
}

func (testCtx *TestContext) theJSONFieldShouldBeApproximately(path string, expected float64) error {
	return fieldApproximately(testCtx.LastOutput, path, expected)
}

func (testCtx *TestContext) theJSONFieldShouldBe(path, expected string) error {
	return fieldEquals(testCtx.LastOutput, path, expected)
}

func (testCtx *TestContext) theJSONArrayShouldHaveItems(path string, n int) error {
	return arrayLength(testCtx.LastOutput, path, n)
}

// theErrorShouldMention checks the returned error and stderr, case-insensitively.
func (testCtx *TestContext) theErrorShouldMention(errorText string) error {
	if testCtx.LastError == nil {
		return fmt.Errorf("no error occurred, but expected error containing '%s'", errorText)
	}

	fullErrorText := testCtx.LastError.Error() + " " + testCtx.LastStderr
	if !strings.Contains(strings.ToLower(fullErrorText), strings.ToLower(errorText)) {
		return fmt.Errorf("error does not contain '%s'\nActual error: %s", errorText, fullErrorText)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldExist(name string) error {
	if _, err := os.Stat(testCtx.substitute(name)); err != nil {
		return fmt.Errorf("file %s does not exist: %w", name, err)
	}
	return nil
}

func (testCtx *TestContext) theFileShouldContain(name, text string) error {
	data, err := os.ReadFile(testCtx.substitute(name))
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if !strings.Contains(string(data), text) {
		return fmt.Errorf("file %s does not contain '%s'\nContent: %s", name, text, data)
	}
	return nil
}

// lookup walks a dotted path such as "classes.0.average_precision" through decoded JSON.
// An empty path selects the document itself.
func lookup(document, path string) (any, error) {
	var node any
	if err := json.Unmarshal([]byte(document), &node); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w\nDocument: %s", err, document)
	}
	if path == "" {
		return node, nil
	}

	for _, key := range strings.Split(path, ".") {
		switch v := node.(type) {
		case map[string]any:
			next, ok := v[key]
			if !ok {
				return nil, fmt.Errorf("field %q not found in path %q", key, path)
			}
			node = next
		case []any:
			idx, err := strconv.Atoi(key)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("index %q out of range in path %q", key, path)
			}
			node = v[idx]
		default:
			return nil, fmt.Errorf("cannot descend into %T at %q", node, key)
		}
	}
	return node, nil
}

func fieldApproximately(document, path string, expected float64) error {
	value, err := lookup(document, path)
	if err != nil {
		return err
	}
	got, ok := value.(float64)
	if !ok {
		return fmt.Errorf("field %q is %T, not a number", path, value)
	}
	if math.Abs(got-expected) > 1e-3 {
		return fmt.Errorf("field %q = %v, expected approximately %v", path, got, expected)
	}
	return nil
}

func fieldEquals(document, path, expected string) error {
	value, err := lookup(document, path)
	if err != nil {
		return err
	}
	if got := fmt.Sprint(value); got != expected {
		return fmt.Errorf("field %q = %q, expected %q", path, got, expected)
	}
	return nil
}

func arrayLength(document, path string, n int) error {
	value, err := lookup(document, path)
	if err != nil {
		return err
	}
	items, ok := value.([]any)
	if !ok {
		return fmt.Errorf("field %q is %T, not an array", path, value)
	}
	if len(items) != n {
		return fmt.Errorf("array %q has %d items, expected %d", path, len(items), n)
	}
	return nil
}
