package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// MaxToolSlot — количество слотов инструментов на плоттере (1..9).
const MaxToolSlot = 9

// PenType описывает тип пера: высоты подъёма/опускания и параметры прокачки.
type PenType struct {
	ID                    string  `yaml:"-" json:"id"`
	DisplayName           string  `yaml:"display_name" json:"display_name"`
	PenUp                 float64 `yaml:"pen_up" json:"pen_up"`
	PenDown               float64 `yaml:"pen_down" json:"pen_down"`
	PumpDistanceThreshold float64 `yaml:"pump_distance_threshold" json:"pump_distance_threshold"`
	PumpHeight            float64 `yaml:"pump_height" json:"pump_height"`
}

// ToolConfig — конфигурация одного слота: тип пера и цвет для отрисовки.
type ToolConfig struct {
	Slot    int
	PenType PenType
	Color   string
}

// Tools связывает реестр типов перьев и назначения слотов 1..9.
type Tools struct {
	PenTypes map[string]PenType
	slots    [MaxToolSlot + 1]*ToolConfig
}

// ConfigError возвращается при некорректной конфигурации инструментов.
// Значения не подправляются молча: ошибка фатальна для загрузки.
type ConfigError struct {
	Field  string
	Reason string
}

func (e ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// DefaultPenTypes возвращает встроенный набор типов перьев Archiplotter.
func DefaultPenTypes() map[string]PenType {
	return map[string]PenType{
		"stabilo":   {ID: "stabilo", DisplayName: "Stabilo Point 88", PenUp: 33, PenDown: 13, PumpHeight: 50},
		"posca":     {ID: "posca", DisplayName: "POSCA Marker", PenUp: 33, PenDown: 13, PumpHeight: 50},
		"fineliner": {ID: "fineliner", DisplayName: "Fineliner", PenUp: 35, PenDown: 15, PumpHeight: 50},
		"brushpen":  {ID: "brushpen", DisplayName: "Brushpen", PenUp: 33, PenDown: 8, PumpHeight: 50},
		"marker":    {ID: "marker", DisplayName: "Marker (dick)", PenUp: 36, PenDown: 11, PumpHeight: 50},
	}
}

// Default возвращает конфигурацию без назначенных слотов, только со
// встроенными типами перьев.
func Default() *Tools {
	return &Tools{PenTypes: DefaultPenTypes()}
}

type toolsFile struct {
	PenTypes map[string]PenType  `yaml:"pen_types" json:"pen_types"`
	Tools    map[string]slotFile `yaml:"tools" json:"tools"`
}

type slotFile struct {
	PenType string `yaml:"pen_type" json:"pen_type"`
	Color   string `yaml:"color" json:"color"`
}

// Load загружает конфигурацию инструментов из YAML или JSON.
// Пользовательские pen_types дополняют встроенный набор.
func Load(path string) (*Tools, error) {
	if path == "" {
		return nil, fmt.Errorf("config: path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var file toolsFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("config: failed to decode YAML: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &file); err != nil {
			return nil, fmt.Errorf("config: failed to decode JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("config: format %s is not supported", ext)
	}

	tools := Default()
	for id, pt := range file.PenTypes {
		pt.ID = id
		if pt.PumpHeight == 0 {
			pt.PumpHeight = 50
		}
		if err := ValidatePenType(pt); err != nil {
			return nil, err
		}
		tools.PenTypes[id] = pt
	}

	for key, slot := range file.Tools {
		n, err := strconv.Atoi(strings.TrimSpace(key))
		if err != nil {
			return nil, ConfigError{Field: "tools." + key, Reason: "slot must be a number"}
		}
		if err := tools.Assign(n, slot.PenType, slot.Color); err != nil {
			return nil, err
		}
	}
	return tools, nil
}

// ValidatePenType проверяет ограничения типа пера.
func ValidatePenType(pt PenType) error {
	field := "pen_types." + pt.ID
	if pt.ID == "" {
		return ConfigError{Field: "pen_types", Reason: "pen type id is empty"}
	}
	if pt.PenUp < 0 || pt.PenDown < 0 {
		return ConfigError{Field: field, Reason: "pen heights must be non-negative"}
	}
	if pt.PenDown >= pt.PenUp {
		return ConfigError{Field: field, Reason: fmt.Sprintf("pen_down (%.2f) must be below pen_up (%.2f)", pt.PenDown, pt.PenUp)}
	}
	if pt.PumpDistanceThreshold < 0 {
		return ConfigError{Field: field, Reason: "pump_distance_threshold must be non-negative"}
	}
	if pt.PumpHeight < 0 {
		return ConfigError{Field: field, Reason: "pump_height must be non-negative"}
	}
	if pt.PumpDistanceThreshold > 0 && pt.PumpHeight == 0 {
		return ConfigError{Field: field, Reason: "pump_height is required when pumping is enabled"}
	}
	return nil
}

// Assign назначает слоту тип пера по имени.
func (t *Tools) Assign(slot int, penType, color string) error {
	if slot < 1 || slot > MaxToolSlot {
		return ConfigError{Field: fmt.Sprintf("tools.%d", slot), Reason: fmt.Sprintf("slot must be in 1..%d", MaxToolSlot)}
	}
	pt, ok := t.PenTypes[penType]
	if !ok {
		return ConfigError{Field: fmt.Sprintf("tools.%d", slot), Reason: fmt.Sprintf("unknown pen type %q", penType)}
	}
	t.slots[slot] = &ToolConfig{Slot: slot, PenType: pt, Color: color}
	return nil
}

// Slot возвращает конфигурацию слота или nil, если слот не назначен.
func (t *Tools) Slot(n int) *ToolConfig {
	if t == nil || n < 1 || n > MaxToolSlot {
		return nil
	}
	return t.slots[n]
}

// Slots возвращает назначенные слоты по возрастанию номера.
func (t *Tools) Slots() []*ToolConfig {
	if t == nil {
		return nil
	}
	out := make([]*ToolConfig, 0, MaxToolSlot)
	for i := 1; i <= MaxToolSlot; i++ {
		if t.slots[i] != nil {
			out = append(out, t.slots[i])
		}
	}
	return out
}

// PenTypeIDs возвращает отсортированный список известных типов перьев.
func (t *Tools) PenTypeIDs() []string {
	ids := make([]string, 0, len(t.PenTypes))
	for id := range t.PenTypes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
