package yanzi

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/gray-logic-yanzi/internal/cirrus"
)

// unitTypePhysical marks sources that belong to the physical device itself
// rather than one of its chassis children.
const unitTypePhysical = "physicalOrChassis"

// Variables that are listed on every physical unit but never carry samples.
var skippedVariables = map[string]bool{
	"log":       true,
	"unitState": true,
}

// unitsQuery lists the physical units of a location together with their
// chassis children, data sources and inventory versions.
const unitsQuery = `query {
  location {
    units(filter:[{ name:unitTypeFixed, type: equals, value:"physicalOrChassis"}]) {
      cursor
      endCursor
      list {
        key
        productType
        name
        lifeCycleState
        unitAddress {
          did
          serverDid
        }
        dataSources {
          key
          variableName
          siUnit
        }
        chassisChildren {
          unitTypeFixed
          unitAddress {
            did
            serverDid
          }
          dataSources {
            key
            variableName
            siUnit
          }
        }
      }
    }
    inventory {
      list {
        key
        version
      }
    }
  }
}`

// Source is one data source of one Yanzi unit, flattened together with the
// physical device it belongs to.
type Source struct {
	Key           string `json:"key"`
	LocationID    string `json:"location_id"`
	ServerDID     string `json:"server_did"`
	DID           string `json:"did"`
	Variable      string `json:"variable"`
	SIUnit        string `json:"si_unit,omitempty"`
	UnitTypeFixed string `json:"unit_type_fixed"`

	DeviceKey      string `json:"device_key"`
	DeviceDID      string `json:"device_did"`
	DeviceName     string `json:"device_name"`
	ProductType    string `json:"product_type"`
	Version        string `json:"version,omitempty"`
	LifeCycleState string `json:"life_cycle_state,omitempty"`

	// Latest is the most recent sample, or nil if none is known.
	Latest json.RawMessage `json:"latest,omitempty"`
}

// Address returns the DataSourceAddress used to query samples of s.
func (s Source) Address() cirrus.DataSourceAddress {
	dsa := cirrus.NewDataSourceAddress(s.LocationID, s.DID, s.Variable)
	dsa.ServerDID = s.ServerDID
	return dsa
}

// HasSample reports whether a non-null latest sample is known.
func (s Source) HasSample() bool {
	return len(s.Latest) > 0 && string(s.Latest) != "null"
}

// GraphQL result shapes.

type unitRef struct {
	DID       string `json:"did"`
	ServerDID string `json:"serverDid"`
}

type dataSource struct {
	Key          string `json:"key"`
	VariableName string `json:"variableName"`
	SIUnit       string `json:"siUnit"`
}

type chassisChild struct {
	UnitTypeFixed string       `json:"unitTypeFixed"`
	UnitAddress   unitRef      `json:"unitAddress"`
	DataSources   []dataSource `json:"dataSources"`
}

type device struct {
	Key             string         `json:"key"`
	ProductType     string         `json:"productType"`
	Name            string         `json:"name"`
	LifeCycleState  string         `json:"lifeCycleState"`
	UnitAddress     unitRef        `json:"unitAddress"`
	DataSources     []dataSource   `json:"dataSources"`
	ChassisChildren []chassisChild `json:"chassisChildren"`
}

type locationResult struct {
	Data struct {
		Location struct {
			Units struct {
				Cursor    string   `json:"cursor"`
				EndCursor string   `json:"endCursor"`
				List      []device `json:"list"`
			} `json:"units"`
			Inventory struct {
				List []struct {
					Key     string `json:"key"`
					Version string `json:"version"`
				} `json:"list"`
			} `json:"inventory"`
		} `json:"location"`
	} `json:"data"`
}

// parseUnits turns a GraphQL response into the flat source list.
//
// The response's result field is itself a JSON document encoded as a string.
func parseUnits(resp *cirrus.Response, locationID string) ([]Source, error) {
	var envelope struct {
		Result *string `json:"result"`
	}
	if err := resp.Decode(&envelope); err != nil {
		return nil, err
	}
	if envelope.Result == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoResult, resp.Code())
	}

	var result locationResult
	if err := json.Unmarshal([]byte(*envelope.Result), &result); err != nil {
		return nil, fmt.Errorf("decode graphql result: %w", err)
	}

	loc := result.Data.Location
	if loc.Units.Cursor != loc.Units.EndCursor {
		return nil, ErrMultiPage
	}

	versions := make(map[string]string, len(loc.Inventory.List))
	for _, item := range loc.Inventory.List {
		versions[item.Key] = item.Version
	}

	var sources []Source
	for _, d := range loc.Units.List {
		base := Source{
			LocationID:     locationID,
			DeviceKey:      d.Key,
			DeviceDID:      d.UnitAddress.DID,
			DeviceName:     d.Name,
			ProductType:    d.ProductType,
			Version:        versions[d.Key],
			LifeCycleState: d.LifeCycleState,
		}

		for _, ds := range d.DataSources {
			if skippedVariables[ds.VariableName] {
				continue
			}
			sources = append(sources, base.with(ds, d.UnitAddress, unitTypePhysical))
		}

		for _, child := range d.ChassisChildren {
			ref := child.UnitAddress
			if ref.ServerDID == "" {
				ref.ServerDID = d.UnitAddress.ServerDID
			}
			for _, ds := range child.DataSources {
				sources = append(sources, base.with(ds, ref, child.UnitTypeFixed))
			}
		}
	}

	return sources, nil
}

func (s Source) with(ds dataSource, unit unitRef, unitType string) Source {
	s.DID = unit.DID
	s.ServerDID = unit.ServerDID
	s.Variable = ds.VariableName
	s.SIUnit = ds.SIUnit
	s.UnitTypeFixed = unitType
	s.Key = ds.Key
	if s.Key == "" {
		s.Key = Key(s.Address())
	}
	return s
}
