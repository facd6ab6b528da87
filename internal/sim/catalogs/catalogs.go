package catalogs

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"factoryline.ai/internal/sim/factory"
)

type Catalogs struct {
	Materials MaterialCatalog
	Recipes   RecipeCatalog
}

type MaterialCatalog struct {
	Palette       []string
	Index         map[string]uint16
	Defs          map[string]MaterialDef
	PaletteDigest string
	DefsDigest    string
}

type MaterialDef struct {
	ID    string `json:"id"`
	Stage string `json:"stage"` // "RAW","REFINED","COMPONENT","PRODUCT"
	Value int    `json:"value,omitempty"`
}

type RecipeCatalog struct {
	ByID   map[string]RecipeDef
	Digest string
}

type RecipeDef struct {
	RecipeID  string      `json:"recipe_id"`
	Station   string      `json:"station"`
	Inputs    []ItemCount `json:"inputs"`
	Outputs   []ItemCount `json:"outputs"`
	TimeTicks int         `json:"time_ticks,omitempty"`
}

type ItemCount struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

func Load(configDir string) (*Catalogs, error) {
	var c Catalogs

	if err := loadMaterials(filepath.Join(configDir, "materials.json"), &c.Materials); err != nil {
		return nil, err
	}
	if err := loadRecipes(filepath.Join(configDir, "recipes.json"), &c.Recipes); err != nil {
		return nil, err
	}
	if err := c.check(); err != nil {
		return nil, err
	}
	return &c, nil
}

func sha256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func loadMaterials(path string, out *MaterialCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.DefsDigest = sha256Hex(raw)

	var defs []MaterialDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("materials.json: %w", err)
	}
	out.Defs = map[string]MaterialDef{}
	for _, d := range defs {
		if d.ID == "" {
			return fmt.Errorf("materials.json: empty id")
		}
		if _, dup := out.Defs[d.ID]; dup {
			return fmt.Errorf("materials.json: duplicate id %q", d.ID)
		}
		out.Defs[d.ID] = d
	}

	ids := make([]string, 0, len(out.Defs))
	for id := range out.Defs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	out.Palette = ids
	out.Index = make(map[string]uint16, len(ids))
	for i, id := range ids {
		out.Index[id] = uint16(i)
	}
	palJSON, _ := json.Marshal(ids)
	out.PaletteDigest = sha256Hex(palJSON)
	return nil
}

func loadRecipes(path string, out *RecipeCatalog) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	out.Digest = sha256Hex(raw)

	var defs []RecipeDef
	if err := json.Unmarshal(raw, &defs); err != nil {
		return fmt.Errorf("recipes.json: %w", err)
	}
	out.ByID = map[string]RecipeDef{}
	for _, r := range defs {
		if r.RecipeID == "" {
			return fmt.Errorf("recipes.json: empty recipe_id")
		}
		out.ByID[r.RecipeID] = r
	}
	return nil
}

// check cross-references recipes against materials and station shapes.
func (c *Catalogs) check() error {
	refining := map[string]map[string]string{}
	for _, id := range c.Recipes.IDs() {
		r := c.Recipes.ByID[id]
		kind, err := factory.ParseStationKind(r.Station)
		if err != nil {
			return fmt.Errorf("recipes.json: %s: %w", id, err)
		}
		if len(r.Outputs) != 1 || r.Outputs[0].Count != 1 {
			return fmt.Errorf("recipes.json: %s: exactly one output unit required", id)
		}
		for _, ic := range append(append([]ItemCount(nil), r.Inputs...), r.Outputs...) {
			if _, ok := c.Materials.Defs[ic.Item]; !ok {
				return fmt.Errorf("recipes.json: %s: unknown material %q", id, ic.Item)
			}
			if ic.Count < 1 {
				return fmt.Errorf("recipes.json: %s: %s count must be positive", id, ic.Item)
			}
		}
		if r.TimeTicks < 0 {
			return fmt.Errorf("recipes.json: %s: negative time_ticks", id)
		}
		switch kind {
		case factory.KindFurnace, factory.KindPackager:
			if len(r.Inputs) != 1 || r.Inputs[0].Count != 1 {
				return fmt.Errorf("recipes.json: %s: %s recipes take exactly one input unit", id, kind)
			}
			in := r.Inputs[0].Item
			if refining[r.Station] == nil {
				refining[r.Station] = map[string]string{}
			}
			if prev, ok := refining[r.Station][in]; ok {
				return fmt.Errorf("recipes.json: %s: %s already refines %q into %q", id, kind, in, prev)
			}
			refining[r.Station][in] = r.Outputs[0].Item
		case factory.KindAssembler:
			if len(r.Inputs) == 0 {
				return fmt.Errorf("recipes.json: %s: assembler recipe without inputs", id)
			}
		default:
			return fmt.Errorf("recipes.json: %s: %s stations take no recipes", id, kind)
		}
	}
	return nil
}

// IDs lists recipe ids sorted.
func (rc RecipeCatalog) IDs() []string {
	ids := make([]string, 0, len(rc.ByID))
	for id := range rc.ByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Transforms is the refining table for a furnace or packager: every recipe of
// that station kind, input kind to output kind.
func (c *Catalogs) Transforms(kind factory.StationKind) map[factory.Kind]factory.Kind {
	out := map[factory.Kind]factory.Kind{}
	for _, r := range c.Recipes.ByID {
		if r.Station != string(kind) || len(r.Inputs) != 1 {
			continue
		}
		out[factory.Kind(r.Inputs[0].Item)] = factory.Kind(r.Outputs[0].Item)
	}
	return out
}

// AssemblerRecipe resolves an assembler recipe by id.
func (c *Catalogs) AssemblerRecipe(id string) (factory.Recipe, int, error) {
	r, ok := c.Recipes.ByID[id]
	if !ok {
		return factory.Recipe{}, 0, fmt.Errorf("unknown recipe %q", id)
	}
	if r.Station != string(factory.KindAssembler) {
		return factory.Recipe{}, 0, fmt.Errorf("recipe %q runs on %s, not assembler", id, r.Station)
	}
	out := factory.Recipe{Output: factory.Kind(r.Outputs[0].Item)}
	for _, in := range r.Inputs {
		out.Inputs = append(out.Inputs, factory.RecipeInput{Kind: factory.Kind(in.Item), Count: in.Count})
	}
	return out, r.TimeTicks, nil
}

// HasMaterial reports whether id is a catalogued material.
func (c *Catalogs) HasMaterial(id string) bool {
	_, ok := c.Materials.Defs[id]
	return ok
}

// Digest combines the catalog digests into one value for run headers.
func (c *Catalogs) Digest() string {
	return sha256Hex([]byte(c.Materials.DefsDigest + ":" + c.Recipes.Digest))
}
