package enroll

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"richter/internal/failure"
)

// Process label carried by every error raised while reading declarations.
const processDeclarations = "Reading Declarations"

// schoolInfo is a resolved entry of the "schools" map.
type schoolInfo struct {
	id        int
	subdomain string
}

// Load reads the declarations file at path and returns the enrollments in
// declaration order.
func Load(path string) ([]Enrollment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		activity := "Opening declarations file"
		if errors.Is(err, fs.ErrNotExist) {
			activity = "Locating declarations file"
		}
		return nil, failure.Wrap(failure.KindStorage, processDeclarations, activity, err)
	}
	return Parse(data)
}

// Parse decodes a declarations document of the form
//
//	schools:
//	  Example High: {id: 42, subdomain: examplehigh}
//	enrollments:
//	  - {school: Example High, class: 10A/Ma1}
//
// Malformed documents are reported as declaration errors; nothing is
// silently skipped.
func Parse(data []byte) ([]Enrollment, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, failure.Wrap(failure.KindDeclaration, processDeclarations, "Parsing YAML", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, declErr("Loading from String", "No YAML documents in declarations file")
	}
	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, declErrAt(root, "Loading from String", "Declarations document is not a mapping")
	}

	schoolsNode := lookup(root, "schools")
	if schoolsNode == nil {
		return nil, declErr("Loading Schools", "No School Map")
	}
	schools, err := extractSchools(schoolsNode)
	if err != nil {
		return nil, err
	}

	enrollNode := lookup(root, "enrollments")
	if enrollNode == nil {
		return nil, declErr("Loading Enrollment Info", "Array of enrollments not found")
	}
	return extractEnrollments(enrollNode, schools)
}

func extractSchools(n *yaml.Node) (map[string]schoolInfo, error) {
	if n.Kind != yaml.MappingNode {
		return nil, declErrAt(n, "Loading Schools", "No School Map")
	}
	out := make(map[string]schoolInfo, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		if key.Kind != yaml.ScalarNode || key.Tag != "!!str" {
			return nil, declErrAt(key, "Loading School Names", "Bad School Name")
		}
		info, err := extractSchoolInfo(key.Value, val)
		if err != nil {
			return nil, err
		}
		out[key.Value] = info
	}
	return out, nil
}

func extractSchoolInfo(name string, n *yaml.Node) (schoolInfo, error) {
	const activity = "Loading School Info"
	if n.Kind != yaml.MappingNode {
		return schoolInfo{}, declErrAt(n, activity, fmt.Sprintf("Bad School Info for %q", name))
	}

	var (
		info         schoolInfo
		hasID, hasSD bool
	)
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		if key.Kind != yaml.ScalarNode || key.Tag != "!!str" {
			return schoolInfo{}, declErrAt(key, activity, "Info Key is not a String")
		}
		switch key.Value {
		case "id":
			if val.Kind != yaml.ScalarNode || val.Tag != "!!int" {
				return schoolInfo{}, declErrAt(val, activity, "School ID is not an Integer")
			}
			id, err := strconv.Atoi(val.Value)
			if err != nil {
				return schoolInfo{}, declErrAt(val, activity, "School ID is not an Integer")
			}
			info.id, hasID = id, true
		case "subdomain":
			if val.Kind != yaml.ScalarNode || val.Tag != "!!str" {
				return schoolInfo{}, declErrAt(val, activity, "School Subdomain is not a String")
			}
			info.subdomain, hasSD = val.Value, true
		}
	}

	switch {
	case hasID && hasSD:
		return info, nil
	case hasID:
		return schoolInfo{}, declErrAt(n, activity, fmt.Sprintf("No subdomain for School %q", name))
	case hasSD:
		return schoolInfo{}, declErrAt(n, activity, fmt.Sprintf("No id for School %q", name))
	default:
		return schoolInfo{}, declErrAt(n, activity, fmt.Sprintf("No id or subdomain for School %q", name))
	}
}

func extractEnrollments(n *yaml.Node, schools map[string]schoolInfo) ([]Enrollment, error) {
	if n.Kind != yaml.SequenceNode {
		return nil, declErrAt(n, "Loading Enrollment Info", "Array of enrollments not found")
	}
	out := make([]Enrollment, 0, len(n.Content))
	for _, item := range n.Content {
		e, err := extractEnrollment(item, schools)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func extractEnrollment(n *yaml.Node, schools map[string]schoolInfo) (Enrollment, error) {
	const activity = "Loading Enrollment Info"
	if n.Kind != yaml.MappingNode {
		return Enrollment{}, declErrAt(n, activity, "Enrollment in array is not in form of mapping")
	}

	var school, class *yaml.Node
	for i := 0; i+1 < len(n.Content); i += 2 {
		key, val := n.Content[i], n.Content[i+1]
		switch key.Value {
		case "school":
			school = val
		case "class":
			class = val
		}
	}

	if school == nil || class == nil {
		return Enrollment{}, declErrAt(n, activity, "Not all required fields found")
	}
	if school.Kind != yaml.ScalarNode || school.Tag != "!!str" {
		return Enrollment{}, declErrAt(school, activity, "Enrollment school is not a String")
	}
	if class.Kind != yaml.ScalarNode || class.Tag != "!!str" {
		return Enrollment{}, declErrAt(class, activity, "Enrollment class is not a String")
	}

	info, ok := schools[school.Value]
	if !ok {
		return Enrollment{}, declErrAt(school, activity, fmt.Sprintf("Enrollment references undeclared school %q", school.Value))
	}
	return Enrollment{Subdomain: info.subdomain, SchoolID: info.id, Class: class.Value}, nil
}

// lookup returns the value node for key in a mapping node.
func lookup(m *yaml.Node, key string) *yaml.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

func declErr(activity, msg string) error {
	return failure.New(failure.KindDeclaration, processDeclarations, activity, msg)
}

func declErrAt(n *yaml.Node, activity, msg string) error {
	return declErr(activity, fmt.Sprintf("%s (line %d)", msg, n.Line))
}
