package vm

import (
	"fmt"
	"strconv"
	"strings"
)

// Display renders h the way the console prints it.
func Display(h Handle) string {
	switch v := h.(type) {
	case nil:
		return "null"
	case NullHandle:
		return "null"
	case IntHandle:
		return strconv.FormatInt(v.Value, 10)
	case BoolHandle:
		return strconv.FormatBool(v.Value)
	case StringHandle:
		return v.Value
	case TypeHandle:
		return v.Of.Name
	case *FunctionHandle:
		return "&" + v.Method.String()
	case *FutureHandle:
		if v.Done() && v.Fault() == nil {
			return Display(v.Value())
		}
		return fmt.Sprintf("Future#%d", v.ID())
	case *PropertyRef:
		return "." + v.Prop
	case *ServiceHandle:
		return fmt.Sprintf("service %s#%d", v.ctx.Name, v.ctx.ID)
	case *ExceptionHandle:
		return v.String()
	case *ObjectHandle:
		return displayObject(v, make(map[*ObjectHandle]bool))
	}
	return h.Type().Name
}

func displayObject(o *ObjectHandle, seen map[*ObjectHandle]bool) string {
	if seen[o] {
		return o.typ.Name + "{...}"
	}
	seen[o] = true
	defer delete(seen, o)

	var sb strings.Builder
	sb.WriteString(o.typ.Name)
	sb.WriteByte('{')
	first := true
	for i, p := range o.typ.Props {
		if p.Getter != "" || i >= len(o.Fields) {
			continue
		}
		if !first {
			sb.WriteString(", ")
		}
		first = false
		sb.WriteString(p.Name)
		sb.WriteByte('=')
		if nested, ok := o.Fields[i].(*ObjectHandle); ok {
			sb.WriteString(displayObject(nested, seen))
		} else {
			sb.WriteString(Display(o.Fields[i]))
		}
	}
	sb.WriteByte('}')
	return sb.String()
}
