package esp

import (
	"context"
	"net/http"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/c360/espclient/errors"
	"github.com/c360/espclient/events"
	"github.com/c360/espclient/model"
	"github.com/c360/espclient/pkg/naming"
	"github.com/c360/espclient/rest"
	"github.com/c360/espclient/schema"
	"github.com/c360/espclient/xmltree"
)

var projectURLRe = regexp.MustCompile(`^\w+://`)

// LoadOption adjusts how a project is installed
type LoadOption func(*loadOptions)

type loadOptions struct {
	name            string
	overwrite       bool
	start           bool
	startConnectors bool
}

// AsProject installs the definition under a different name
func AsProject(name string) LoadOption {
	return func(o *loadOptions) {
		o.name = name
	}
}

// NoOverwrite fails the load when a project of the same name exists
func NoOverwrite() LoadOption {
	return func(o *loadOptions) {
		o.overwrite = false
	}
}

// NoStart installs the project without starting it
func NoStart() LoadOption {
	return func(o *loadOptions) {
		o.start = false
	}
}

// NoConnectors leaves the project connectors stopped
func NoConnectors() LoadOption {
	return func(o *loadOptions) {
		o.startConnectors = false
	}
}

// Projects returns project definitions keyed by name. Empty names and filter
// return every project.
func (c *Connection) Projects(ctx context.Context, names []string, filter string) (map[string]*model.Project, error) {
	params := rest.NewParams().
		SetIf(len(names) > 0, "name", names).
		SetNonEmpty("filter", filter)
	root, err := c.session.Get(ctx, "projectXml", params)
	if err != nil {
		return nil, errors.Wrap(err, "Connection", "Projects", "get projects")
	}
	return projectsFromElement(root)
}

func projectsFromElement(root *xmltree.Element) (map[string]*model.Project, error) {
	items := root.FindAll("./project")
	if root.Tag == "project" {
		items = []*xmltree.Element{root}
	}
	out := make(map[string]*model.Project, len(items))
	for _, item := range items {
		p, err := model.ProjectFromElement(item)
		if err != nil {
			return nil, err
		}
		out[p.Name()] = p
	}
	return out, nil
}

func projectNames(root *xmltree.Element) []string {
	var names []string
	for _, item := range root.FindAll("./project") {
		if name, ok := item.Attr("name"); ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Project returns one project definition with its metadata
func (c *Connection) Project(ctx context.Context, name string) (*model.Project, error) {
	projects, err := c.Projects(ctx, []string{name}, "")
	if err != nil {
		return nil, err
	}
	p, ok := projects[name]
	if !ok {
		return nil, errors.Invalidf(errors.ErrNotFound, "Connection", "Project", "no project with name %q found", name)
	}
	if err := c.loadProjectMetadata(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

func (c *Connection) loadProjectMetadata(ctx context.Context, p *model.Project) error {
	root, err := c.session.Get(ctx, "projectMetadata/"+p.Name(), nil)
	if err != nil {
		return errors.Wrap(err, "Connection", "Project", "get metadata of "+p.Name())
	}
	for _, item := range root.FindAll("./project/metadata/meta") {
		if id, ok := item.Attr("id"); ok {
			p.Metadata[id] = item.Text
		}
	}
	for _, cq := range root.FindAll("./project/contquery") {
		q, ok := p.Query(cq.AttrOr("id", ""))
		if !ok {
			continue
		}
		for _, item := range cq.FindAll("./metadata/meta") {
			if id, ok := item.Attr("id"); ok {
				q.Metadata[id] = item.Text
			}
		}
	}
	return nil
}

// LoadProject installs a project definition and returns it as read back from
// the server
func (c *Connection) LoadProject(ctx context.Context, p *model.Project, opts ...LoadOption) (*model.Project, error) {
	data, err := p.XML(false)
	if err != nil {
		return nil, err
	}
	return c.load(ctx, []byte(data), "", p.Name(), opts)
}

// LoadProjectXML installs a project from its XML definition. The name is
// taken from the definition unless AsProject is given.
func (c *Connection) LoadProjectXML(ctx context.Context, data []byte, opts ...LoadOption) (*model.Project, error) {
	root, err := xmltree.Parse(data)
	if err != nil {
		return nil, errors.Wrap(err, "Connection", "LoadProjectXML", "parse project definition")
	}
	name := ""
	if proj := root.FindSelfOrDescendant("project"); proj != nil {
		name = proj.AttrOr("name", "")
	}
	return c.load(ctx, data, "", name, opts)
}

// LoadProjectFile installs the project definition stored at path
func (c *Connection) LoadProjectFile(ctx context.Context, path string, opts ...LoadOption) (*model.Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Connection", "LoadProjectFile", "read "+path)
	}
	return c.LoadProjectXML(ctx, data, opts...)
}

// LoadProjectURL has the server fetch the definition from url. The name must
// be given with AsProject or is generated.
func (c *Connection) LoadProjectURL(ctx context.Context, url string, opts ...LoadOption) (*model.Project, error) {
	if !projectURLRe.MatchString(url) {
		return nil, errors.Invalidf(errors.ErrInvalidValue, "Connection", "LoadProjectURL", "%q is not a URL", url)
	}
	return c.load(ctx, nil, url, "", opts)
}

func (c *Connection) load(ctx context.Context, data []byte, projectURL, name string, opts []LoadOption) (*model.Project, error) {
	o := loadOptions{name: name, overwrite: true, start: true, startConnectors: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.name == "" {
		o.name = naming.Generate("p_")
	}

	params := rest.NewParams().
		Set("overwrite", o.overwrite).
		Set("connectors", o.startConnectors).
		SetNonEmpty("projectUrl", projectURL).
		Set("start", o.start).
		Set("log", true)
	if data == nil {
		data = []byte{}
	}
	if _, err := c.session.Put(ctx, "projects/"+o.name, params, data); err != nil {
		return nil, errors.Wrap(err, "Connection", "LoadProject", "load project "+o.name)
	}
	c.logger.Info("Project loaded", "project", o.name, "started", o.start)
	return c.Project(ctx, o.name)
}

// DeleteProjects deletes the named projects, or those matching filter
func (c *Connection) DeleteProjects(ctx context.Context, names []string, filter string) error {
	params := rest.NewParams().
		SetIf(len(names) > 0, "name", names).
		SetNonEmpty("filter", filter)
	if _, err := c.session.Delete(ctx, "projects", params); err != nil {
		return errors.Wrap(err, "Connection", "DeleteProjects", "delete projects")
	}
	return nil
}

// DeleteProject deletes one project
func (c *Connection) DeleteProject(ctx context.Context, name string) error {
	if _, err := c.session.Delete(ctx, "projects/"+name, nil); err != nil {
		return errors.Wrap(err, "Connection", "DeleteProject", "delete project "+name)
	}
	return nil
}

// RunningProjects returns the definitions of running projects
func (c *Connection) RunningProjects(ctx context.Context, names []string, filter string) (map[string]*model.Project, error) {
	return c.projectsInState(ctx, "RunningProjects", "runningProjects", names, filter)
}

// StoppedProjects returns the definitions of stopped projects
func (c *Connection) StoppedProjects(ctx context.Context, names []string, filter string) (map[string]*model.Project, error) {
	return c.projectsInState(ctx, "StoppedProjects", "stoppedProjects", names, filter)
}

func (c *Connection) projectsInState(ctx context.Context, method, path string, names []string, filter string) (map[string]*model.Project, error) {
	params := rest.NewParams().
		SetIf(len(names) > 0, "name", names).
		SetNonEmpty("filter", filter).
		Set("schema", false)
	root, err := c.session.Get(ctx, path, params)
	if err != nil {
		return nil, errors.Wrap(err, "Connection", method, "list "+path)
	}
	found := projectNames(root)
	if len(found) == 0 {
		return map[string]*model.Project{}, nil
	}
	return c.Projects(ctx, found, "")
}

// RunningProject returns one running project
func (c *Connection) RunningProject(ctx context.Context, name string) (*model.Project, error) {
	return c.oneInState(ctx, "RunningProject", "running", name, c.RunningProjects)
}

// StoppedProject returns one stopped project
func (c *Connection) StoppedProject(ctx context.Context, name string) (*model.Project, error) {
	return c.oneInState(ctx, "StoppedProject", "stopped", name, c.StoppedProjects)
}

func (c *Connection) oneInState(ctx context.Context, method, state, name string,
	list func(context.Context, []string, string) (map[string]*model.Project, error)) (*model.Project, error) {
	projects, err := list(ctx, []string{name}, "")
	if err != nil {
		return nil, err
	}
	if p, ok := projects[name]; ok {
		return p, nil
	}
	return nil, errors.Invalidf(errors.ErrNotFound, "Connection", method, "no %s project with name %q found", state, name)
}

// StartProjects starts the named projects, or those matching filter
func (c *Connection) StartProjects(ctx context.Context, names []string, filter string) error {
	return c.postProjects(ctx, "StartProjects", "runningProjects", names, filter)
}

// StopProjects stops the named projects, or those matching filter
func (c *Connection) StopProjects(ctx context.Context, names []string, filter string) error {
	return c.postProjects(ctx, "StopProjects", "stoppedProjects", names, filter)
}

func (c *Connection) postProjects(ctx context.Context, method, path string, names []string, filter string) error {
	params := rest.NewParams().
		SetIf(len(names) > 0, "name", names).
		SetNonEmpty("filter", filter)
	if _, err := c.session.Post(ctx, path, params, nil); err != nil {
		return errors.Wrap(err, "Connection", method, "post "+path)
	}
	return nil
}

// StartProject starts one project
func (c *Connection) StartProject(ctx context.Context, name string) error {
	if _, err := c.session.Post(ctx, "runningProjects/"+name, rest.NewParams().Set("name", name), nil); err != nil {
		return errors.Wrap(err, "Connection", "StartProject", "start project "+name)
	}
	return nil
}

// StopProject stops one project
func (c *Connection) StopProject(ctx context.Context, name string) error {
	if _, err := c.session.Post(ctx, "stoppedProjects/"+name, rest.NewParams().Set("name", name), nil); err != nil {
		return errors.Wrap(err, "Connection", "StopProject", "stop project "+name)
	}
	return nil
}

// StartConnectors starts the connectors of a running project
func (c *Connection) StartConnectors(ctx context.Context, project string) error {
	return c.setState(ctx, "StartConnectors", "projects/"+project,
		rest.NewParams().Set("value", "connectorsStarted"), nil)
}

// PersistProject saves the project state to path on the server
func (c *Connection) PersistProject(ctx context.Context, project, path string) error {
	return c.setState(ctx, "PersistProject", "projects/"+project,
		rest.NewParams().Set("value", "persisted").SetNonEmpty("path", path), nil)
}

// RestoreProject restores the project state from path on the server
func (c *Connection) RestoreProject(ctx context.Context, project, path string) error {
	return c.setState(ctx, "RestoreProject", "projects/"+project,
		rest.NewParams().Set("value", "restored").SetNonEmpty("path", path), nil)
}

// UpdateProject replaces the definition of a running project in place
func (c *Connection) UpdateProject(ctx context.Context, p *model.Project) error {
	data, err := p.XML(false)
	if err != nil {
		return err
	}
	return c.setState(ctx, "UpdateProject", "projects/"+p.Name(),
		rest.NewParams().Set("value", "modified"), []byte(data))
}

// ValidateProject asks the server whether the definition is valid. A
// rejected definition returns false and no error.
func (c *Connection) ValidateProject(ctx context.Context, p *model.Project) (bool, error) {
	data, err := p.XML(false)
	if err != nil {
		return false, err
	}
	root, err := c.session.Post(ctx, "projectValidationResults", nil, []byte(data))
	if err != nil {
		if errors.IsServerError(err) {
			c.logger.Debug("Project rejected", "project", p.Name(), "error", err)
			return false, nil
		}
		return false, errors.Wrap(err, "Connection", "ValidateProject", "validate project "+p.Name())
	}
	return root.Tag == "project-validation-success", nil
}

// RunProject runs a project definition once on the server and returns the
// resulting contents of the requested windows, keyed by "p.cq.w". Window
// schemas come from the definition.
func (c *Connection) RunProject(ctx context.Context, p *model.Project, windows ...string) (map[string]*events.Table, error) {
	data, err := p.XML(false)
	if err != nil {
		return nil, err
	}
	params := rest.NewParams().SetIf(len(windows) > 0, "windows", windows)
	body, err := c.session.Do(ctx, rest.Request{Method: http.MethodPost, Path: "projectResults", Params: params, Body: []byte(data)})
	if err != nil {
		return nil, errors.Wrap(err, "Connection", "RunProject", "run project "+p.Name())
	}
	return events.Parse(ctx, body, events.Options{
		Format:   events.FormatXML,
		Resolver: definitionResolver{project: p, next: c},
	})
}

// definitionResolver answers schema lookups from a local project definition,
// deferring to the server for windows it does not know
type definitionResolver struct {
	project *model.Project
	next    events.SchemaResolver
}

func (r definitionResolver) WindowSchema(ctx context.Context, window string) (*schema.Schema, error) {
	parts := strings.Split(window, ".")
	if len(parts) == 3 && parts[0] == r.project.Name() {
		if w, err := r.project.Window(parts[1] + "." + parts[2]); err == nil {
			if s := w.Schema(); s != nil && s.Len() > 0 && !s.HasInherited() {
				return s.Copy(), nil
			}
		}
	}
	return r.next.WindowSchema(ctx, window)
}

// ProjectMetadata returns the metadata of a project
func (c *Connection) ProjectMetadata(ctx context.Context, project string) (map[string]string, error) {
	root, err := c.session.Get(ctx, "projectMetadata/"+project, nil)
	if err != nil {
		return nil, errors.Wrap(err, "Connection", "ProjectMetadata", "get metadata of "+project)
	}
	out := make(map[string]string)
	for _, item := range root.FindAll("./project/metadata/meta") {
		if id, ok := item.Attr("id"); ok {
			out[id] = item.Text
		}
	}
	return out, nil
}

// SetProjectMetadata stores one metadata value on a project
func (c *Connection) SetProjectMetadata(ctx context.Context, project, key, value string) error {
	if _, err := c.session.Put(ctx, "projectMetadata/"+project+"/"+key, nil, []byte(value)); err != nil {
		return errors.Wrap(err, "Connection", "SetProjectMetadata", "set "+key+" on "+project)
	}
	return nil
}

// DeleteProjectMetadata removes metadata keys from a project
func (c *Connection) DeleteProjectMetadata(ctx context.Context, project string, keys ...string) error {
	for _, key := range keys {
		if _, err := c.session.Delete(ctx, "projectMetadata/"+project+"/"+key, nil); err != nil {
			return errors.Wrap(err, "Connection", "DeleteProjectMetadata", "delete "+key+" from "+project)
		}
	}
	return nil
}

// SetQueryMetadata stores one metadata value on a continuous query
func (c *Connection) SetQueryMetadata(ctx context.Context, project, query, key, value string) error {
	path := "projectMetadata/" + project + "/" + query + "/" + key
	if _, err := c.session.Put(ctx, path, nil, []byte(value)); err != nil {
		return errors.Wrap(err, "Connection", "SetQueryMetadata", "set "+key+" on "+project+"."+query)
	}
	return nil
}

// DeleteQueryMetadata removes metadata keys from a continuous query
func (c *Connection) DeleteQueryMetadata(ctx context.Context, project, query string, keys ...string) error {
	for _, key := range keys {
		path := "projectMetadata/" + project + "/" + query + "/" + key
		if _, err := c.session.Delete(ctx, path, nil); err != nil {
			return errors.Wrap(err, "Connection", "DeleteQueryMetadata", "delete "+key+" from "+project+"."+query)
		}
	}
	return nil
}
