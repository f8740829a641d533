package domain

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"bottleneck/internal/attractor"
	"bottleneck/internal/model"
)

// Catalog holds the templates callers may resolve by name.
type Catalog struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

func NewCatalog(templates ...*Template) (*Catalog, error) {
	c := &Catalog{templates: make(map[string]*Template, len(templates))}
	for _, t := range templates {
		if err := c.Register(t); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// DefaultCatalog returns a catalog with the shipped templates.
func DefaultCatalog() *Catalog {
	c, err := NewCatalog(Climate(), Healthcare(), SupplyChain())
	if err != nil {
		panic(err)
	}
	return c
}

func (c *Catalog) Register(t *Template) error {
	if t == nil {
		return fmt.Errorf("%w: nil template", ErrInvalidDefinition)
	}
	if err := t.Check(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.templates[t.Name] = t
	return nil
}

func (c *Catalog) Get(name string) (*Template, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	t, ok := c.templates[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDomain, name)
	}
	return t, nil
}

func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.templates))
	for name := range c.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve turns a definition into a template. Definitions without variables
// name a registered domain; the rest build a linear template.
func (c *Catalog) Resolve(def model.Definition) (*Template, error) {
	if len(def.Variables) == 0 {
		if def.Domain == "" {
			return nil, fmt.Errorf("%w: definition %q has neither variables nor a domain", ErrInvalidDefinition, def.Name)
		}
		return c.Get(def.Domain)
	}
	return FromDefinition(def)
}

// DefaultPresets maps a domain name to the parameter preset each attractor
// kind uses for it. Kinds absent for a domain run their default parameters.
func DefaultPresets() map[string]map[attractor.Kind]string {
	return map[string]map[attractor.Kind]string{
		"climate":       {attractor.KindLorenz: "classic"},
		"finance":       {attractor.KindLorenz: "high_chaos"},
		"supply_chain":  {attractor.KindChen: "high_chaos"},
		"healthcare":    {attractor.KindChen: "moderate_chaos"},
		"communication": {attractor.KindRossler: "high_chaos"},
		"optimization":  {attractor.KindRossler: "standard"},
	}
}

func continuous(name string, min, max float64, unit string) model.VariableSpec {
	return model.VariableSpec{Name: name, Kind: model.VariableContinuous, Min: min, Max: max, Unit: unit}
}

func between(variable string, min, max float64, description string) model.ConstraintSpec {
	return model.ConstraintSpec{Variable: variable, Kind: model.ConstraintRange, Min: min, Max: max, Description: description}
}

func atLeast(variable string, min float64, description string) model.ConstraintSpec {
	return model.ConstraintSpec{Variable: variable, Kind: model.ConstraintMinimum, Min: min, Description: description}
}

func Climate() *Template {
	const (
		wTemperature = 0.4
		wEmission    = 0.3
		wAdaptation  = 0.2
		wEfficiency  = 0.1
	)
	return &Template{
		Name: "climate",
		Variables: []model.VariableSpec{
			continuous("temperature_target", 1.5, 4.0, "°C"),
			continuous("emission_reduction_rate", 0.01, 0.10, "fraction/year"),
			continuous("adaptation_investment", 0, 1, "normalized"),
			continuous("renewable_energy_fraction", 0.1, 0.9, "fraction"),
			continuous("carbon_price", 10, 200, "$/ton"),
		},
		Constraints: []model.ConstraintSpec{
			between("temperature_target", 1.5, 3.0, "Stay within safe warming limits"),
			between("emission_reduction_rate", 0.03, 0.08, "Realistic reduction rates"),
			between("renewable_energy_fraction", 0.3, 0.8, "Technologically feasible renewable fraction"),
		},
		Objective: Objective{
			Direction: model.Maximize,
			Score: func(v Values) float64 {
				score := math.Max(0, 3.0-v["temperature_target"]) / 1.5 * wTemperature
				score += math.Min(1, v["emission_reduction_rate"]/0.08) * wEmission
				score += v["adaptation_investment"] * wAdaptation
				efficiency := v["renewable_energy_fraction"]*0.6 + (v["carbon_price"]-10)/190*0.4
				return score + efficiency*wEfficiency
			},
		},
		Rules: []Rule{
			{Description: "Carbon price may cause economic disruption", Violated: func(v Values) bool { return v["carbon_price"] > 150 }},
		},
		Preferences: map[attractor.Kind]float64{attractor.KindLorenz: 0.4, attractor.KindChen: 0.35, attractor.KindRossler: 0.25},
		Actions: []ActionSpec{
			{Type: "policy", Priority: "high", Describe: func(v Values) string {
				return fmt.Sprintf("Implement temperature target of %.1f°C", v["temperature_target"])
			}},
			{Type: "investment", Priority: "high", Describe: func(v Values) string {
				return fmt.Sprintf("Reduce emissions by %.1f%% per year with carbon priced at $%.0f/ton", v["emission_reduction_rate"]*100, v["carbon_price"])
			}},
			{Type: "energy", Priority: "medium", Describe: func(v Values) string {
				return fmt.Sprintf("Scale renewable energy to %.0f%% of the mix", v["renewable_energy_fraction"]*100)
			}},
		},
		Metadata: Metadata{
			DisplayName: "Climate Coordination",
			Description: "Optimize climate change mitigation and adaptation strategies",
			Complexity:  "high",
			KeyIndicators: []string{
				"Global temperature increase",
				"Greenhouse gas emissions",
				"Climate adaptation index",
				"Renewable energy adoption",
				"Carbon pricing effectiveness",
			},
		},
	}
}

func Healthcare() *Template {
	const (
		wOutcomes      = 0.35
		wUtilization   = 0.25
		wCost          = 0.20
		wAccessibility = 0.15
		wResilience    = 0.05
	)
	return &Template{
		Name: "healthcare",
		Variables: []model.VariableSpec{
			continuous("hospital_capacity", 50, 1000, "beds"),
			continuous("icu_allocation", 0.05, 0.30, "fraction"),
			continuous("staff_to_patient_ratio", 0.1, 0.5, "staff/patient"),
			continuous("equipment_investment", 0, 1, "normalized"),
			continuous("preventive_care_focus", 0.1, 0.8, "fraction"),
			continuous("telemedicine_adoption", 0, 1, "fraction"),
		},
		Constraints: []model.ConstraintSpec{
			between("hospital_capacity", 100, 800, "Realistic hospital size"),
			between("icu_allocation", 0.08, 0.25, "ICU beds should be 8-25% of total capacity"),
			between("staff_to_patient_ratio", 0.15, 0.4, "Safe staffing levels"),
			atLeast("preventive_care_focus", 0.2, "Minimum preventive care investment"),
		},
		Objective: Objective{
			Direction: model.Maximize,
			Score: func(v Values) float64 {
				capacity := v["hospital_capacity"]
				icu := v["icu_allocation"]
				staff := v["staff_to_patient_ratio"]
				equipment := v["equipment_investment"]
				telemedicine := v["telemedicine_adoption"]
				preventive := v["preventive_care_focus"]

				score := math.Min(1, (capacity*0.3+icu*50+staff*20)/100) * wOutcomes
				score += (equipment*0.6 + telemedicine*0.4) * wUtilization
				score += (preventive*0.7 + (1-math.Abs(capacity-400)/400)*0.3) * wCost
				score += (telemedicine*0.5 + preventive*0.5) * wAccessibility
				return score + (icu*0.6+equipment*0.4)*wResilience
			},
		},
		Rules: []Rule{
			{Description: "ICU capacity too low for safe operations", Violated: func(v Values) bool {
				return v["hospital_capacity"]*v["icu_allocation"] < 10
			}},
			{Description: "Staffing levels inadequate for patient care", Violated: func(v Values) bool {
				return v["hospital_capacity"]*0.8*v["staff_to_patient_ratio"] < v["hospital_capacity"]*0.1
			}},
			{Description: "Insufficient investment in medical technology", Violated: func(v Values) bool {
				return v["equipment_investment"] < 0.3 && v["telemedicine_adoption"] < 0.2
			}},
		},
		Preferences: map[attractor.Kind]float64{attractor.KindChen: 0.4, attractor.KindLorenz: 0.35, attractor.KindRossler: 0.25},
		Actions: []ActionSpec{
			{Type: "capacity", Priority: "high", Describe: func(v Values) string {
				return fmt.Sprintf("Plan for %.0f beds with %.0f%% ICU allocation", v["hospital_capacity"], v["icu_allocation"]*100)
			}},
			{Type: "staffing", Priority: "high", Describe: func(v Values) string {
				return fmt.Sprintf("Staff at %.2f staff per patient", v["staff_to_patient_ratio"])
			}},
			{Type: "technology", Priority: "medium", Describe: func(v Values) string {
				return fmt.Sprintf("Raise telemedicine adoption to %.0f%%", v["telemedicine_adoption"]*100)
			}},
		},
		Metadata: Metadata{
			DisplayName: "Healthcare Resources",
			Description: "Optimize healthcare resource allocation and patient care delivery",
			Complexity:  "high",
			KeyIndicators: []string{
				"Patient survival rates",
				"Average wait times",
				"Bed occupancy rates",
				"Staff satisfaction",
				"Cost per patient",
				"Readmission rates",
			},
		},
	}
}

func SupplyChain() *Template {
	const (
		wCost           = 0.30
		wService        = 0.25
		wResilience     = 0.20
		wSustainability = 0.15
		wFlexibility    = 0.10
	)
	return &Template{
		Name: "supply_chain",
		Variables: []model.VariableSpec{
			continuous("inventory_levels", 1000, 50000, "units"),
			continuous("reorder_point", 500, 5000, "units"),
			continuous("transport_capacity", 10, 200, "vehicles"),
			continuous("warehouse_utilization", 0.3, 0.95, "fraction"),
			continuous("supplier_diversity", 0.1, 0.8, "fraction"),
			continuous("demand_forecast_accuracy", 0.6, 0.95, "fraction"),
		},
		Constraints: []model.ConstraintSpec{
			between("inventory_levels", 2000, 30000, "Balanced inventory levels"),
			between("reorder_point", 1000, 3000, "Reasonable reorder triggers"),
			between("warehouse_utilization", 0.4, 0.9, "Efficient space utilization"),
			atLeast("supplier_diversity", 0.3, "Minimum supplier diversification"),
		},
		Objective: Objective{
			Direction: model.Maximize,
			Score: func(v Values) float64 {
				inventory := v["inventory_levels"]
				transport := v["transport_capacity"]
				warehouse := v["warehouse_utilization"]
				forecast := v["demand_forecast_accuracy"]
				diversity := v["supplier_diversity"]

				score := ((1-math.Abs(inventory-15000)/15000)*0.5 + transport/200*0.3 + warehouse*0.2) * wCost
				score += ((1-v["reorder_point"]/5000)*0.4 + forecast*0.6) * wService
				score += (diversity*0.7 + (1-math.Abs(warehouse-0.7))*0.3) * wResilience
				score += (diversity*0.5 + (1-transport/200)*0.5) * wSustainability
				return score + (forecast*0.6+(1-math.Abs(inventory-10000)/10000)*0.4)*wFlexibility
			},
		},
		Rules: []Rule{
			{Description: "Reorder point too high relative to inventory levels", Violated: func(v Values) bool {
				return v["reorder_point"] >= v["inventory_levels"]*0.8
			}},
			{Description: "Transport capacity insufficient for inventory levels", Violated: func(v Values) bool {
				return v["transport_capacity"] < math.Ceil(v["inventory_levels"]/1000)*0.5
			}},
			{Description: "Warehouse utilization too high for inventory volume", Violated: func(v Values) bool {
				return v["warehouse_utilization"] > 0.9 && v["inventory_levels"] > 25000
			}},
			{Description: "Forecast accuracy unrealistically high", Violated: func(v Values) bool {
				return v["demand_forecast_accuracy"] > 0.9
			}},
		},
		Preferences: map[attractor.Kind]float64{attractor.KindChen: 0.4, attractor.KindRossler: 0.35, attractor.KindLorenz: 0.25},
		Actions: []ActionSpec{
			{Type: "optimization", Priority: "medium", Describe: func(v Values) string {
				return fmt.Sprintf("Optimize inventory levels to %.0f units with a reorder point of %.0f", v["inventory_levels"], v["reorder_point"])
			}},
			{Type: "logistics", Priority: "medium", Describe: func(v Values) string {
				return fmt.Sprintf("Redesign transport network around %.0f vehicles", v["transport_capacity"])
			}},
			{Type: "sourcing", Priority: "low", Describe: func(v Values) string {
				return fmt.Sprintf("Diversify suppliers to a %.0f%% diversity index", v["supplier_diversity"]*100)
			}},
		},
		Metadata: Metadata{
			DisplayName: "Supply Chain Optimization",
			Description: "Optimize inventory, logistics, and supplier network management",
			Complexity:  "high",
			KeyIndicators: []string{
				"Inventory turnover ratio",
				"On-time delivery rate",
				"Stockout frequency",
				"Transportation costs",
				"Warehouse utilization",
				"Supplier performance score",
			},
		},
	}
}
