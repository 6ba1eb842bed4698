package pypi

import (
	"io"
	"net/url"

	"github.com/bytedance/sonic"
)

const apiVersion = "1.0"

type jsonMeta struct {
	APIVersion string `json:"api-version"`
}

type jsonProjectsResponse struct {
	Meta     jsonMeta `json:"meta"`
	Projects []struct {
		Name string `json:"name"`
	} `json:"projects"`
}

type jsonFilesResponse struct {
	Meta  jsonMeta   `json:"meta"`
	Name  string     `json:"name"`
	Files []jsonFile `json:"files"`
}

func parseJSONProjects(body io.Reader) ([]string, error) {
	var resp jsonProjectsResponse
	if err := sonic.ConfigFastest.NewDecoder(body).Decode(&resp); err != nil {
		return nil, err
	}
	names := make([]string, len(resp.Projects))
	for i, p := range resp.Projects {
		names[i] = p.Name
	}
	return names, nil
}

func parseJSONFiles(baseURL string, body io.Reader) ([]File, error) {
	var resp jsonFilesResponse
	if err := sonic.ConfigFastest.NewDecoder(body).Decode(&resp); err != nil {
		return nil, err
	}

	base, parseErr := url.Parse(baseURL)
	files := make([]File, len(resp.Files))
	for i, jf := range resp.Files {
		f := jf.toFile()
		if parseErr == nil {
			if ref, err := url.Parse(f.URL); err == nil {
				f.URL = base.ResolveReference(ref).String()
			}
		}
		files[i] = f
	}
	return files, nil
}

// EncodeProjects renders a root listing as a Simple Repository JSON response.
func EncodeProjects(names []string) ([]byte, error) {
	projects := make([]struct {
		Name string `json:"name"`
	}, len(names))
	for i, n := range names {
		projects[i].Name = n
	}
	resp := jsonProjectsResponse{
		Meta:     jsonMeta{APIVersion: apiVersion},
		Projects: projects,
	}
	return sonic.ConfigFastest.Marshal(resp)
}

// EncodeFiles renders a per-project listing as a Simple Repository JSON
// response.
func EncodeFiles(project string, files []File) ([]byte, error) {
	jsonFiles := make([]jsonFile, len(files))
	for i, f := range files {
		jsonFiles[i] = f.toJSON()
	}
	resp := jsonFilesResponse{
		Meta:  jsonMeta{APIVersion: apiVersion},
		Name:  project,
		Files: jsonFiles,
	}
	return sonic.ConfigFastest.Marshal(resp)
}
