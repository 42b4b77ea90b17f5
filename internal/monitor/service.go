/*
tc2-hat-sensors - Reads the sensors on the HAT and attached boards.
Copyright (C) 2024, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

package monitor

import (
	"encoding/json"
	"errors"
	"runtime"
	"strings"
	"time"

	"github.com/TheCacophonyProject/tc2-hat-sensors/sensor"
	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"
)

const (
	dbusName = "org.cacophony.sensors"
	dbusPath = "/org/cacophony/sensors"
)

type service struct {
	registry *sensor.Registry
}

func startService(registry *sensor.Registry) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}

	s := &service{registry: registry}
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")
	return nil
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
		}},
	}
	return introspect.NewIntrospectable(node)
}

// resultJSON is how a reading is sent over D-Bus and printed by the read
// command.
type resultJSON struct {
	Name    string    `json:"name"`
	State   string    `json:"state"`
	Time    time.Time `json:"time"`
	Reading any       `json:"reading"`
}

func newResultJSON(res sensor.Result) resultJSON {
	return resultJSON{Name: res.Name, State: res.State.String(), Time: res.Time, Reading: res.Reading}
}

// List returns the names of the configured sensors.
func (s service) List() ([]string, *dbus.Error) {
	return s.registry.Names(), nil
}

// Read takes a reading from one sensor and returns it as JSON.
func (s service) Read(name string) (string, *dbus.Error) {
	log.Debugf("Got DBus message 'Read' for '%s'", name)
	res, err := s.registry.Read(name)
	if err != nil {
		return "", errToDBusErr(err)
	}
	out, err := json.Marshal(newResultJSON(res))
	if err != nil {
		return "", errToDBusErr(err)
	}
	return string(out), nil
}

// ReadAll takes a reading from every sensor and returns them as a JSON list.
func (s service) ReadAll() (string, *dbus.Error) {
	log.Debug("Got DBus message 'ReadAll'")
	results := s.registry.ReadAll()
	all := make([]resultJSON, 0, len(results))
	for _, res := range results {
		all = append(all, newResultJSON(res))
	}
	out, err := json.Marshal(all)
	if err != nil {
		return "", errToDBusErr(err)
	}
	return string(out), nil
}

func errToDBusErr(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	return &dbus.Error{
		Name: dbusName + "." + getCallerName(),
		Body: []interface{}{err.Error()},
	}
}

func getCallerName() string {
	fpcs := make([]uintptr, 1)
	n := runtime.Callers(3, fpcs)
	if n == 0 {
		return ""
	}
	caller := runtime.FuncForPC(fpcs[0] - 1)
	if caller == nil {
		return ""
	}
	funcNames := strings.Split(caller.Name(), ".")
	return funcNames[len(funcNames)-1]
}
