// Package flagx binds cobra flags to tagged option structs.
//
//	type fetchOptions struct {
//	    Commitment string        `flag:"commitment,c" usage:"read commitment" default:"confirmed"`
//	    Timeout    time.Duration `flag:"timeout" default:"10s"`
//	    NoCache    bool          `flag:"no-cache"`
//	}
//
//	flagx.BindFlags(cmd, &fetchOptions{})   // when building the command
//	flagx.ParseFlags(cmd, &opts)            // inside RunE
package flagx

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var durationType = reflect.TypeOf(time.Duration(0))

// ParseFlags copies the values of cmd's flags into the tagged fields of
// target, which must be a pointer to a struct.
func ParseFlags(cmd *cobra.Command, target interface{}) error {
	v, err := structValue(target)
	if err != nil {
		return err
	}
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}
		name, _ := flagName(t.Field(i))
		if name == "" {
			continue
		}
		if err := setFieldValue(cmd, field, name); err != nil {
			return fmt.Errorf("parse field %s: %w", t.Field(i).Name, err)
		}
	}
	return nil
}

func structValue(target interface{}) (reflect.Value, error) {
	v := reflect.ValueOf(target)
	if v.Kind() != reflect.Ptr || v.Elem().Kind() != reflect.Struct {
		return reflect.Value{}, fmt.Errorf("target must be a pointer to struct")
	}
	return v.Elem(), nil
}

// flagName splits a `flag:"name,n"` tag.
func flagName(f reflect.StructField) (name, short string) {
	tag := f.Tag.Get("flag")
	if tag == "" {
		return "", ""
	}
	parts := strings.SplitN(tag, ",", 2)
	if len(parts) == 2 {
		short = parts[1]
	}
	return parts[0], short
}

func setFieldValue(cmd *cobra.Command, field reflect.Value, name string) error {
	flags := cmd.Flags()
	if field.Type() == durationType {
		val, err := flags.GetDuration(name)
		if err != nil {
			return err
		}
		field.SetInt(int64(val))
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		val, err := flags.GetString(name)
		if err != nil {
			return err
		}
		field.SetString(val)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		val, err := flags.GetInt(name)
		if err != nil {
			return err
		}
		field.SetInt(int64(val))

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32:
		val, err := flags.GetUint(name)
		if err != nil {
			return err
		}
		field.SetUint(uint64(val))

	case reflect.Uint64:
		val, err := flags.GetUint64(name)
		if err != nil {
			return err
		}
		field.SetUint(val)

	case reflect.Bool:
		val, err := flags.GetBool(name)
		if err != nil {
			return err
		}
		field.SetBool(val)

	case reflect.Float32, reflect.Float64:
		val, err := flags.GetFloat64(name)
		if err != nil {
			return err
		}
		field.SetFloat(val)

	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type: %s", field.Type().Elem().Kind())
		}
		val, err := flags.GetStringSlice(name)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(val))

	default:
		return fmt.Errorf("unsupported field type: %s", field.Kind())
	}
	return nil
}

// BindFlags registers one flag per tagged field of target. Optional tags:
// usage, default and required:"true".
func BindFlags(cmd *cobra.Command, target interface{}) error {
	v, err := structValue(target)
	if err != nil {
		return err
	}
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		f := t.Field(i)
		name, short := flagName(f)
		if name == "" || !f.IsExported() {
			continue
		}
		if err := registerFlag(cmd, f, name, short, f.Tag.Get("usage"), f.Tag.Get("default")); err != nil {
			return fmt.Errorf("bind field %s: %w", f.Name, err)
		}
		if f.Tag.Get("required") == "true" {
			if err := cmd.MarkFlagRequired(name); err != nil {
				return err
			}
		}
	}
	return nil
}

func registerFlag(cmd *cobra.Command, f reflect.StructField, name, short, usage, def string) error {
	flags := cmd.Flags()
	if f.Type == durationType {
		var d time.Duration
		if def != "" {
			var err error
			if d, err = time.ParseDuration(def); err != nil {
				return fmt.Errorf("default %q: %w", def, err)
			}
		}
		flags.DurationP(name, short, d, usage)
		return nil
	}

	switch f.Type.Kind() {
	case reflect.String:
		flags.StringP(name, short, def, usage)

	case reflect.Int:
		n := 0
		if def != "" {
			var err error
			if n, err = strconv.Atoi(def); err != nil {
				return fmt.Errorf("default %q: %w", def, err)
			}
		}
		flags.IntP(name, short, n, usage)

	case reflect.Uint64:
		var n uint64
		if def != "" {
			var err error
			if n, err = strconv.ParseUint(def, 10, 64); err != nil {
				return fmt.Errorf("default %q: %w", def, err)
			}
		}
		flags.Uint64P(name, short, n, usage)

	case reflect.Bool:
		b := false
		if def != "" {
			var err error
			if b, err = strconv.ParseBool(def); err != nil {
				return fmt.Errorf("default %q: %w", def, err)
			}
		}
		flags.BoolP(name, short, b, usage)

	case reflect.Slice:
		if f.Type.Elem().Kind() != reflect.String {
			return fmt.Errorf("unsupported slice element type: %s", f.Type.Elem().Kind())
		}
		var vals []string
		if def != "" {
			vals = strings.Split(def, ",")
		}
		flags.StringSliceP(name, short, vals, usage)

	default:
		return fmt.Errorf("unsupported field type: %s", f.Type.Kind())
	}
	return nil
}
