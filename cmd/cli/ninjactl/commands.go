package main

import (
	"fmt"

	"github.com/core-tools/hsu-ninja/pkg/manifest"

	"gopkg.in/yaml.v3"
)

type unitArgs struct {
	Name string `positional-arg-name:"unit" required:"yes"`
}

type listCommand struct {
	app   *app
	State bool `long:"state" description:"include unit states"`
}

func (c *listCommand) Execute(args []string) error {
	m, err := c.app.openManager()
	if err != nil {
		return err
	}
	for _, entry := range m.List(c.State) {
		if entry.State != nil {
			fmt.Fprintf(c.app.stdout, "%s\t%s\n", entry.Name, entry.State)
		} else {
			fmt.Fprintln(c.app.stdout, entry.Name)
		}
	}
	return nil
}

type getCommand struct {
	app  *app
	Args unitArgs `positional-args:"yes" required:"yes"`
}

func (c *getCommand) Execute(args []string) error {
	m, err := c.app.openManager()
	if err != nil {
		return err
	}
	unit, err := m.Get(c.Args.Name)
	if err != nil {
		return err
	}
	state, err := m.State(c.Args.Name)
	if err != nil {
		return err
	}

	out, err := yaml.Marshal(newUnitView(c.Args.Name, unit, state))
	if err != nil {
		return err
	}
	_, err = c.app.stdout.Write(out)
	return err
}

type startCommand struct {
	app  *app
	Args unitArgs `positional-args:"yes" required:"yes"`
}

func (c *startCommand) Execute(args []string) error {
	m, err := c.app.openManager()
	if err != nil {
		return err
	}
	if err := m.Start(c.app.ctx, c.Args.Name); err != nil {
		return err
	}
	fmt.Fprintf(c.app.stdout, "%s started\n", c.Args.Name)
	return nil
}

type stopCommand struct {
	app  *app
	Args unitArgs `positional-args:"yes" required:"yes"`
}

func (c *stopCommand) Execute(args []string) error {
	m, err := c.app.openManager()
	if err != nil {
		return err
	}
	if err := m.Stop(c.app.ctx, c.Args.Name); err != nil {
		return err
	}
	fmt.Fprintf(c.app.stdout, "%s stopped\n", c.Args.Name)
	return nil
}

type refreshCommand struct {
	app *app
}

func (c *refreshCommand) Execute(args []string) error {
	// opening the manager performs the scan
	m, err := c.app.openManager()
	if err != nil {
		return err
	}
	fmt.Fprintf(c.app.stdout, "%d units\n", len(m.List(false)))
	return nil
}

type configureCommand struct {
	app  *app
	Args unitArgs `positional-args:"yes" required:"yes"`
}

func (c *configureCommand) Execute(args []string) error {
	m, err := c.app.openManager()
	if err != nil {
		return err
	}
	if err := m.Configure(c.app.ctx, c.Args.Name); err != nil {
		return err
	}
	fmt.Fprintf(c.app.stdout, "%s configured\n", c.Args.Name)
	return nil
}

type installCommand struct {
	app  *app
	Args struct {
		Package string `positional-arg-name:"package" required:"yes"`
	} `positional-args:"yes" required:"yes"`
}

func (c *installCommand) Execute(args []string) error {
	m, err := c.app.openManager()
	if err != nil {
		return err
	}
	name, err := m.Install(c.app.ctx, c.Args.Package)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.app.stdout, "%s installed\n", name)
	return nil
}

type removeCommand struct {
	app  *app
	Args unitArgs `positional-args:"yes" required:"yes"`
}

func (c *removeCommand) Execute(args []string) error {
	m, err := c.app.openManager()
	if err != nil {
		return err
	}
	if err := m.Remove(c.Args.Name); err != nil {
		return err
	}
	fmt.Fprintf(c.app.stdout, "%s removed\n", c.Args.Name)
	return nil
}

type logsCommand struct {
	app   *app
	Lines int      `long:"lines" short:"n" default:"50" description:"number of trailing lines, 0 for all"`
	Args  unitArgs `positional-args:"yes" required:"yes"`
}

func (c *logsCommand) Execute(args []string) error {
	m, err := c.app.openManager()
	if err != nil {
		return err
	}
	lines, err := m.Logs(c.Args.Name, c.Lines)
	if err != nil {
		return err
	}
	for _, line := range lines {
		fmt.Fprintln(c.app.stdout, line)
	}
	return nil
}

// unitView is the YAML shape printed by get
type unitView struct {
	Name        string                 `yaml:"name"`
	ID          string                 `yaml:"id"`
	Type        string                 `yaml:"type,omitempty"`
	State       string                 `yaml:"state"`
	AddPath     bool                   `yaml:"add_path"`
	Maintenance maintenanceView        `yaml:"maintenance"`
	ConfigPath  string                 `yaml:"config_path,omitempty"`
	Fields      map[string]interface{} `yaml:"fields,omitempty"`
}

type maintenanceView struct {
	Kind       string   `yaml:"kind"`
	BinaryPath string   `yaml:"binary_path,omitempty"`
	Args       []string `yaml:"args,omitempty"`
	ScriptPath string   `yaml:"script_path,omitempty"`
}

func newUnitView(name string, unit manifest.Unit, state manifest.UnitState) unitView {
	view := unitView{
		Name:       name,
		ID:         unit.Manifest.ID,
		Type:       unit.Manifest.Type,
		State:      state.String(),
		AddPath:    unit.Manifest.AddPath,
		ConfigPath: unit.Config.ConfigPath,
		Fields:     unit.Config.Fields,
	}
	switch maintenance := unit.Manifest.Maintenance.(type) {
	case manifest.Native:
		view.Maintenance = maintenanceView{
			Kind:       string(maintenance.Kind()),
			BinaryPath: maintenance.BinaryPath.Host(),
			Args:       maintenance.Args,
		}
	case manifest.Script:
		view.Maintenance = maintenanceView{
			Kind:       string(maintenance.Kind()),
			ScriptPath: maintenance.ScriptPath,
		}
	}
	return view
}
